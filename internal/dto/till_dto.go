package dto

import "retailpos/internal/money"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenTillRequest struct {
	InitialCash money.Currency `json:"initial_cash"`
}

type TillEntryRequest struct {
	Value       money.Currency `json:"value"`
	Description string         `json:"description" validate:"required,min=3"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type TillEntryResponse struct {
	ID          string         `json:"id"`
	Value       money.Currency `json:"value"`
	Description string         `json:"description"`
	PaymentID   *string        `json:"payment_id,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type TillResponse struct {
	ID          string              `json:"id"`
	StationID   string              `json:"station_id"`
	Status      string              `json:"status"`
	InitialCash money.Currency      `json:"initial_cash"`
	Balance     money.Currency      `json:"balance"`
	OpenedAt    string              `json:"opened_at"`
	ClosedAt    *string             `json:"closed_at,omitempty"`
	Entries     []TillEntryResponse `json:"entries"`
}
