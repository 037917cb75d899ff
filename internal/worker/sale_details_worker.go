package worker

// sale_details_worker.go
// Renders the details sheet of a sale saved on a token and, when the
// client has an email, queues the sheet for mailing.

import (
	"context"
	"encoding/json"
	"fmt"

	"retailpos/internal/infra"
	"retailpos/internal/model"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailEnqueuer queues email jobs; *Dispatcher satisfies it.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload EmailJobPayload) error
}

// SaleDetailsWorker processes QueueSaleDetails jobs.
type SaleDetailsWorker struct {
	sales       repository.SaleRepository
	emails      EmailEnqueuer
	storeName   string
	storagePath string
	render      func(sale *model.Sale, storeName, storagePath string) (string, error)
}

// NewSaleDetailsWorker wires the worker; emails may be nil to skip mailing.
func NewSaleDetailsWorker(sales repository.SaleRepository, emails EmailEnqueuer, storeName, storagePath string) *SaleDetailsWorker {
	return &SaleDetailsWorker{
		sales:       sales,
		emails:      emails,
		storeName:   storeName,
		storagePath: storagePath,
		render:      infra.GenerateSaleDetailsPDF,
	}
}

// Process handles one job:
//  1. Parse SaleDetailsPayload
//  2. Load the sale with items, client and payments
//  3. Render the PDF sheet
//  4. Queue an email when the client has an address
func (w *SaleDetailsWorker) Process(ctx context.Context, raw json.RawMessage) error {
	// 1. Payload
	var payload SaleDetailsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Permanent(fmt.Errorf("sale_details: invalid payload: %w", err))
	}
	saleID, err := uuid.Parse(payload.SaleID)
	if err != nil {
		return Permanent(fmt.Errorf("sale_details: invalid sale id %q: %w", payload.SaleID, err))
	}

	// 2. Sale
	sale, err := w.sales.FindByID(ctx, nil, saleID)
	if err != nil {
		if repository.IsNotFound(err) {
			return Permanent(fmt.Errorf("sale_details: sale %s not found", saleID))
		}
		return fmt.Errorf("sale_details: load sale: %w", err)
	}

	// 3. PDF
	path, err := w.render(sale, w.storeName, w.storagePath)
	if err != nil {
		return fmt.Errorf("sale_details: %w", err)
	}
	log.Info().Str("sale_id", saleID.String()).Int64("identifier", sale.Identifier).Str("path", path).Msg("sale_details: sheet generated")

	// 4. Email
	if w.emails == nil || sale.Client == nil || sale.Client.Email == nil || *sale.Client.Email == "" {
		return nil
	}
	err = w.emails.EnqueueEmail(ctx, EmailJobPayload{
		ToEmail: *sale.Client.Email,
		Subject: fmt.Sprintf("%s: sale #%d", w.storeName, sale.Identifier),
		Body:    fmt.Sprintf("Hello %s,\n\nAttached are the details of your sale #%d, total %s.\n", sale.Client.Name, sale.Identifier, sale.TotalAmount),
		PDFPath: path,
	})
	if err != nil {
		// the sheet exists; a retry would only render it again
		log.Error().Err(err).Str("sale_id", saleID.String()).Msg("sale_details: could not queue email")
	}
	return nil
}
