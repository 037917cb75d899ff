package infra

import (
	"fmt"
	"net/smtp"
	"path/filepath"
	"time"

	"retailpos/internal/config"

	"github.com/jordan-wright/email"
)

// sendTimeout bounds the wait for a free SMTP connection of the pool.
const sendTimeout = 30 * time.Second

// Mailer sends sale-details sheets through a small pool of SMTP connections
// shared by the email workers. A Mailer without SMTP host is inert.
type Mailer struct {
	from string
	pool *email.Pool
}

func NewMailer(cfg *config.Config) (*Mailer, error) {
	m := &Mailer{from: fmt.Sprintf("%s <%s>", cfg.StoreName, cfg.SMTPUser)}
	if cfg.SMTPHost == "" {
		return m, nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	auth := smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	pool, err := email.NewPool(addr, max(cfg.WorkerPoolSize, 1), auth)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	m.pool = pool
	return m, nil
}

// Configured reports whether an SMTP host is set.
func (m *Mailer) Configured() bool { return m.pool != nil }

// SendSaleDetails mails body to the client with the details sheet attached
// when pdfPath is set.
func (m *Mailer) SendSaleDetails(to, subject, body, pdfPath string) error {
	if m.pool == nil {
		return fmt.Errorf("mailer: SMTP not configured")
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)
	if pdfPath != "" {
		if _, err := e.AttachFile(pdfPath); err != nil {
			return fmt.Errorf("mailer: attach %s: %w", filepath.Base(pdfPath), err)
		}
	}
	return m.pool.Send(e, sendTimeout)
}

// Close releases the pooled connections.
func (m *Mailer) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}
