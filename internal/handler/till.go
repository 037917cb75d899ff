package handler

import (
	"net/http"

	"retailpos/internal/dto"
	"retailpos/internal/service"

	"github.com/gin-gonic/gin"
)

// TillHandler manages the cash register of the session's station.
type TillHandler struct{ svc service.TillService }

func NewTillHandler(svc service.TillService) *TillHandler { return &TillHandler{svc: svc} }

// Open godoc
// @Summary Opens the till of the station
// @Tags till
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenTillRequest true "Initial cash"
// @Success 201 {object} dto.TillResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/till/open [post]
func (h *TillHandler) Open(c *gin.Context) {
	var req dto.OpenTillRequest
	if !bindAndValidate(c, &req) {
		return
	}
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	resp, err := h.svc.Open(c.Request.Context(), s.branchID, s.stationID, s.userID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// AddEntry godoc
// @Summary Registers a manual cash in or out
// @Tags till
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.TillEntryRequest true "Entry"
// @Success 200 {object} dto.TillResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/till/entries [post]
func (h *TillHandler) AddEntry(c *gin.Context) {
	var req dto.TillEntryRequest
	if !bindAndValidate(c, &req) {
		return
	}
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	resp, err := h.svc.AddEntry(c.Request.Context(), s.stationID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Current returns the open till of the station with its entries.
func (h *TillHandler) Current(c *gin.Context) {
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	resp, err := h.svc.Current(c.Request.Context(), s.stationID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Closes the till of the station
// @Tags till
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.TillResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/till/close [post]
func (h *TillHandler) Close(c *gin.Context) {
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	resp, err := h.svc.Close(c.Request.Context(), s.stationID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
