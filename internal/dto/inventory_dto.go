package dto

import "retailpos/internal/money"

type StockDecreaseItemRequest struct {
	SellableID string         `json:"sellable_id" validate:"required,uuid"`
	BatchID    *string        `json:"batch_id"    validate:"omitempty,uuid"`
	Quantity   money.Quantity `json:"quantity"`
}

// StockDecreaseRequest removes goods from the branch stock outside a sale.
type StockDecreaseRequest struct {
	Reason string                     `json:"reason" validate:"required,min=3"`
	Items  []StockDecreaseItemRequest `json:"items"  validate:"required,min=1,dive"`
}

type StockDecreaseResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ConfirmDate string `json:"confirm_date"`
	Items       int    `json:"items"`
}

type SearchResponse struct {
	Query   string      `json:"query"`
	Results interface{} `json:"results"`
}
