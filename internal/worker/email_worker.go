package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	PDFPath string `json:"pdf_path,omitempty"`
}

// Mailer sends one message; *infra.Mailer satisfies it.
type Mailer interface {
	SendSaleDetails(to, subject, body, pdfPath string) error
}

// EmailWorker mails sale-details sheets to clients.
type EmailWorker struct {
	mailer   Mailer
	attempts int
}

func NewEmailWorker(mailer Mailer) *EmailWorker {
	return &EmailWorker{mailer: mailer, attempts: 3}
}

// Process sends the message, retrying SMTP failures in place before
// handing the error back to the pool.
func (w *EmailWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Permanent(fmt.Errorf("email_worker: invalid payload: %w", err))
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("email_worker: empty to_email, skipping")
		return nil
	}

	err := withRetry(ctx, w.attempts, func(attempt int) error {
		err := w.mailer.SendSaleDetails(payload.ToEmail, payload.Subject, payload.Body, payload.PDFPath)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Str("to", payload.ToEmail).Msg("email_worker: send failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("email_worker: %w", err)
	}
	log.Info().Str("to", payload.ToEmail).Msg("email_worker: sale details sent")
	return nil
}

// retryBase is the first backoff step of withRetry.
var retryBase = time.Second

// withRetry calls fn up to maxAttempts times with exponential backoff
// (1s, 2s, …) between attempts.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	if maxAttempts <= 0 {
		return errors.New("no attempts allowed")
	}
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := time.Duration(1<<uint(i-1)) * retryBase
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := fn(i); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
