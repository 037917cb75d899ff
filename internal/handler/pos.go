package handler

import (
	"net/http"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/checkout"
	"retailpos/internal/dto"
	"retailpos/internal/model"
	"retailpos/internal/payment"
	"retailpos/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POSHandler forwards terminal commands to the coordinator of the session's
// station. Editing commands answer with the station view.
type POSHandler struct {
	terminals *checkout.Terminals
	users     repository.UserRepository
}

func NewPOSHandler(terminals *checkout.Terminals, users repository.UserRepository) *POSHandler {
	return &POSHandler{terminals: terminals, users: users}
}

func (h *POSHandler) coordinator(c *gin.Context) (*checkout.Coordinator, bool) {
	s, ok := sessionOf(c)
	if !ok {
		return nil, false
	}
	user, err := h.users.FindByID(c.Request.Context(), s.userID)
	if err != nil || !user.IsActive {
		c.JSON(http.StatusUnauthorized, apierror.New("the session user is no longer active"))
		return nil, false
	}
	return h.terminals.Get(s.branchID, s.stationID, user), true
}

// view answers with the current station view, or the error of the command.
func view(c *gin.Context, co *checkout.Coordinator, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	v, err := co.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// View godoc
// @Summary Current sale of the station
// @Tags pos
// @Produce json
// @Security BearerAuth
// @Success 200 {object} checkout.View
// @Router /v1/pos [get]
func (h *POSHandler) View(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, nil)
}

// ── Items ─────────────────────────────────────────────────────────────────────

// Scan godoc
// @Summary Resolves barcode entry text and adds the item
// @Tags pos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.ScanRequest true "Entry text"
// @Success 200 {object} dto.ScanResponse
// @Failure 404 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/pos/scan [post]
func (h *POSHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	res, err := co.Scan(c.Request.Context(), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	resp := dto.ScanResponse{
		SellableID:  res.Sellable.ID.String(),
		Description: res.Sellable.Description,
		Quantity:    res.Quantity,
		Focus:       string(res.Focus),
	}
	if res.Item != nil {
		id := res.Item.ID.String()
		resp.ItemID = &id
		resp.Quantity = res.Item.Quantity
	}
	c.JSON(http.StatusOK, resp)
}

// ConfirmQuantity adds the scanned sellable with the typed quantity.
func (h *POSHandler) ConfirmQuantity(c *gin.Context) {
	var req dto.QuantityRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	_, err := co.ConfirmQuantity(c.Request.Context(), req.Quantity)
	view(c, co, err)
}

// AddSellable godoc
// @Summary Adds a sellable picked from the search
// @Tags pos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.AddSellableRequest true "Sellable"
// @Success 200 {object} checkout.View
// @Failure 409 {object} apierror.APIError
// @Router /v1/pos/items [post]
func (h *POSHandler) AddSellable(c *gin.Context) {
	var req dto.AddSellableRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	sellableID, _ := uuid.Parse(req.SellableID)
	_, err := co.AddSellable(c.Request.Context(), checkout.AddRequest{
		SellableID: sellableID,
		BatchID:    optionalID(req.BatchID),
		Quantity:   req.Quantity,
		Price:      req.Price,
	})
	view(c, co, err)
}

func (h *POSHandler) SetQuantity(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.QuantityRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetQuantity(c.Request.Context(), itemID, req.Quantity))
}

func (h *POSHandler) SetPrice(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.PriceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetPrice(c.Request.Context(), itemID, req.Price))
}

func (h *POSHandler) RemoveItem(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.RemoveItem(c.Request.Context(), itemID))
}

// ── Sale header ───────────────────────────────────────────────────────────────

func (h *POSHandler) SetClient(c *gin.Context) {
	var req dto.ClientRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetClient(c.Request.Context(), optionalID(&req.ClientID)))
}

func (h *POSHandler) SetToken(c *gin.Context) {
	var req dto.TokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetToken(c.Request.Context(), req.Code))
}

func (h *POSHandler) SetDelivery(c *gin.Context) {
	var req dto.DeliveryRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	freight := req.FreightType
	if freight == "" {
		freight = "cif-unknown"
	}
	d := &model.Delivery{
		Address:             req.Address,
		RecipientID:         optionalID(req.RecipientID),
		TransporterID:       optionalID(req.TransporterID),
		FreightType:         freight,
		Price:               req.Price,
		VolumesKind:         req.VolumesKind,
		VolumesQuantity:     req.VolumesQuantity,
		VehicleLicensePlate: req.VehicleLicensePlate,
		VehicleState:        req.VehicleState,
	}
	view(c, co, co.SetDelivery(c.Request.Context(), d))
}

func (h *POSHandler) RemoveDelivery(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.RemoveDelivery(c.Request.Context()))
}

// ── Discounts ─────────────────────────────────────────────────────────────────

// AuthorizeManager godoc
// @Summary A manager authorizes discounts above the operator's limit
// @Tags pos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.ManagerRequest true "Manager credentials"
// @Success 200 {object} dto.UserResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/pos/manager [post]
func (h *POSHandler) AuthorizeManager(c *gin.Context) {
	var req dto.ManagerRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	m, err := co.AuthorizeManager(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UserResponse{ID: m.ID.String(), Username: m.Username, Name: m.Name, Role: m.Role()})
}

func (h *POSHandler) SetDiscount(c *gin.Context) {
	var req dto.AmountRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetDiscount(c.Request.Context(), req.Value))
}

func (h *POSHandler) SetSurcharge(c *gin.Context) {
	var req dto.AmountRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.SetSurcharge(c.Request.Context(), req.Value))
}

// ── Trade & loans ─────────────────────────────────────────────────────────────

func (h *POSHandler) StartTrade(c *gin.Context) {
	var req dto.TradeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	tradeID, _ := uuid.Parse(req.TradeID)
	view(c, co, co.StartTrade(c.Request.Context(), tradeID))
}

func (h *POSHandler) CloseLoans(c *gin.Context) {
	var req dto.CloseLoansRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	closes := make([]checkout.LoanClose, 0, len(req.Loans))
	for _, l := range req.Loans {
		lc := checkout.LoanClose{Items: make([]checkout.LoanItemClose, 0, len(l.Items))}
		lc.LoanID, _ = uuid.Parse(l.LoanID)
		for _, it := range l.Items {
			itemID, _ := uuid.Parse(it.ItemID)
			lc.Items = append(lc.Items, checkout.LoanItemClose{ItemID: itemID, Sold: it.Sold, Returned: it.Returned})
		}
		closes = append(closes, lc)
	}
	view(c, co, co.CloseLoans(c.Request.Context(), closes))
}

// ── Confirm ───────────────────────────────────────────────────────────────────

// Save godoc
// @Summary Stores the sale on its token without emitting the coupon
// @Tags pos
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SaleResponse
// @Success 204 "empty token closed"
// @Failure 409 {object} apierror.APIError
// @Router /v1/pos/save [post]
func (h *POSHandler) Save(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	sale, err := co.SaveOnly(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if sale == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, saleResponse(sale, nil))
}

// Checkout godoc
// @Summary Confirms the sale with its payments and closes the coupon
// @Tags pos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CheckoutRequest true "Payment"
// @Success 201 {object} dto.SaleResponse
// @Failure 409 {object} apierror.APIError
// @Failure 503 {object} apierror.APIError
// @Router /v1/pos/checkout [post]
func (h *POSHandler) Checkout(c *gin.Context) {
	var req dto.CheckoutRequest
	if !bindAndValidate(c, &req) {
		return
	}
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	creq := checkout.CheckoutRequest{Method: req.Method}
	for _, in := range req.Installments {
		creq.Installments = append(creq.Installments, payment.Installment{Method: in.Method, Value: in.Value, DueDate: in.DueDate})
	}
	if req.Card != nil {
		creq.Card = &payment.Card{
			AuthCode:     req.Card.AuthCode,
			CardType:     req.Card.CardType,
			Provider:     req.Card.Provider,
			Device:       req.Card.Device,
			Installments: req.Card.Installments,
		}
	}
	res, err := co.Checkout(c.Request.Context(), creq)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, saleResponse(res.Sale, res.Payments))
}

// Cancel discards the current sale. During a checkout it asks the running
// confirm to stop instead.
func (h *POSHandler) Cancel(c *gin.Context) {
	co, ok := h.coordinator(c)
	if !ok {
		return
	}
	view(c, co, co.Cancel(c.Request.Context()))
}

func saleResponse(sale *model.Sale, payments []model.Payment) dto.SaleResponse {
	resp := dto.SaleResponse{
		ID:         sale.ID.String(),
		Identifier: sale.Identifier,
		Status:     sale.Status,
		Total:      sale.TotalAmount,
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, dto.PaymentResponse{
			ID:          p.ID.String(),
			Method:      p.Method,
			Value:       p.Value,
			DueDate:     p.DueDate.Format(time.RFC3339),
			Status:      p.Status,
			Installment: p.Installment,
		})
	}
	return resp
}
