package dto

import (
	"time"

	"retailpos/internal/money"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type ScanRequest struct {
	Text string `json:"text" validate:"required,max=64"`
}

type QuantityRequest struct {
	Quantity money.Quantity `json:"quantity"`
}

type AddSellableRequest struct {
	SellableID string          `json:"sellable_id" validate:"required,uuid"`
	BatchID    *string         `json:"batch_id"    validate:"omitempty,uuid"`
	Quantity   money.Quantity  `json:"quantity"`
	Price      *money.Currency `json:"price"`
}

type PriceRequest struct {
	Price money.Currency `json:"price"`
}

type AmountRequest struct {
	Value money.Currency `json:"value"`
}

// ClientRequest sets the sale client; an empty id clears it.
type ClientRequest struct {
	ClientID string `json:"client_id" validate:"omitempty,uuid"`
}

type TokenRequest struct {
	Code string `json:"code" validate:"required,max=30"`
}

type DeliveryRequest struct {
	Address             string         `json:"address"        validate:"required,min=3"`
	RecipientID         *string        `json:"recipient_id"   validate:"omitempty,uuid"`
	TransporterID       *string        `json:"transporter_id" validate:"omitempty,uuid"`
	FreightType         string         `json:"freight_type"   validate:"omitempty,oneof=fob-payment fob-installments cif-unknown cif-invoice"`
	Price               money.Currency `json:"price"`
	VolumesKind         string         `json:"volumes_kind"`
	VolumesQuantity     int            `json:"volumes_quantity" validate:"min=0"`
	VehicleLicensePlate *string        `json:"vehicle_license_plate" validate:"omitempty,max=8"`
	VehicleState        *string        `json:"vehicle_state"         validate:"omitempty,len=2"`
}

type TradeRequest struct {
	TradeID string `json:"trade_id" validate:"required,uuid"`
}

type LoanItemCloseRequest struct {
	ItemID   string         `json:"item_id" validate:"required,uuid"`
	Sold     money.Quantity `json:"sold"`
	Returned money.Quantity `json:"returned"`
}

type LoanCloseRequest struct {
	LoanID string                 `json:"loan_id" validate:"required,uuid"`
	Items  []LoanItemCloseRequest `json:"items"   validate:"required,min=1,dive"`
}

type CloseLoansRequest struct {
	Loans []LoanCloseRequest `json:"loans" validate:"required,min=1,dive"`
}

type InstallmentRequest struct {
	Method  string         `json:"method"   validate:"required"`
	Value   money.Currency `json:"value"`
	DueDate time.Time      `json:"due_date"`
}

type CardRequest struct {
	AuthCode     string `json:"auth_code"    validate:"required,max=30"`
	CardType     string `json:"card_type"    validate:"required,oneof=credit debit"`
	Provider     string `json:"provider"     validate:"required"`
	Device       string `json:"device"`
	Installments int    `json:"installments" validate:"min=0,max=48"`
}

type CheckoutRequest struct {
	Method       string               `json:"method"       validate:"required"`
	Installments []InstallmentRequest `json:"installments" validate:"omitempty,dive"`
	Card         *CardRequest         `json:"card"         validate:"omitempty"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ScanResponse struct {
	ItemID      *string        `json:"item_id,omitempty"`
	SellableID  string         `json:"sellable_id"`
	Description string         `json:"description"`
	Quantity    money.Quantity `json:"quantity"`
	Focus       string         `json:"focus"`
}

type PaymentResponse struct {
	ID          string         `json:"id"`
	Method      string         `json:"method"`
	Value       money.Currency `json:"value"`
	DueDate     string         `json:"due_date"`
	Status      string         `json:"status"`
	Installment int            `json:"installment"`
}

type SaleResponse struct {
	ID         string            `json:"id"`
	Identifier int64             `json:"identifier"`
	Status     string            `json:"status"`
	Total      money.Currency    `json:"total"`
	Payments   []PaymentResponse `json:"payments,omitempty"`
}
