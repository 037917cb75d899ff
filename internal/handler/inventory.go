package handler

import (
	"net/http"

	"retailpos/internal/dto"
	"retailpos/internal/service"

	"github.com/gin-gonic/gin"
)

type InventoryHandler struct{ svc service.StockService }

func NewInventoryHandler(svc service.StockService) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

// Decrease godoc
// @Summary Takes goods out of the branch stock outside a sale
// @Tags inventory
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.StockDecreaseRequest true "Decrease"
// @Success 201 {object} dto.StockDecreaseResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/inventory/decreases [post]
func (h *InventoryHandler) Decrease(c *gin.Context) {
	var req dto.StockDecreaseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	resp, err := h.svc.Decrease(c.Request.Context(), s.branchID, s.userID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
