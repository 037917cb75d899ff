// Package payment turns the amount left after trade credit into the payments
// of a sale group.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrTradeEqualsTotal = apierror.Validation("trade",
		"The returned total equals the sale total. There is no payment to process: add more items or return it in Sales app")
	ErrTradeAboveTotal = apierror.Validation("trade",
		"The returned total is greater than the sale total: add more items or return it in Sales app")
)

var (
	ErrUnknownMethod        = apierror.Validation("method", "Unknown payment method")
	ErrNoInstallments       = apierror.Validation("installments", "Add at least one installment")
	ErrInstallmentNotPos    = apierror.Validation("installments", "Every installment must be greater than zero")
	ErrInstallmentsMismatch = apierror.Validation("installments", "The installments must sum to the amount to pay")
	ErrCardData             = apierror.Validation("card", "Card payments need the authorization code, card type and provider")
)

// ── Trade credit ──────────────────────────────────────────────────────────────

// Offset is the result of applying trade credit to a sale total.
type Offset struct {
	// Credit is the returned total of the trade.
	Credit money.Currency
	// Discount is added to the sale discount when credit is used as discount.
	Discount money.Currency
	// Remaining is what payments must cover.
	Remaining money.Currency
}

// TradeOffset applies the credit of trade (nil = none) to total. A credit
// above the total is refused. A credit equal to the total is refused too,
// unless useTradeAsDiscount turns it into a discount covering the whole sale.
func TradeOffset(total money.Currency, trade *model.ReturnedSale, useTradeAsDiscount bool) (Offset, error) {
	if trade == nil {
		return Offset{Remaining: total}, nil
	}
	credit := trade.ReturnedTotal()
	switch credit.Cmp(total) {
	case 1:
		return Offset{}, ErrTradeAboveTotal
	case 0:
		if !useTradeAsDiscount {
			return Offset{}, ErrTradeEqualsTotal
		}
	}
	remaining, err := total.Sub(credit)
	if err != nil {
		return Offset{}, err
	}
	off := Offset{Credit: credit, Remaining: remaining}
	if useTradeAsDiscount {
		off.Discount = credit
	}
	return off, nil
}

// ── Composer ──────────────────────────────────────────────────────────────────

// Installment is one line of a "multiple" payment.
type Installment struct {
	Method  string
	Value   money.Currency
	DueDate time.Time
}

// Card is the authorization captured for a card payment.
type Card struct {
	AuthCode     string
	CardType     string
	Provider     string
	Device       string
	Installments int
}

// Request describes the payments of one sale.
type Request struct {
	Sale      *model.Sale
	Method    string
	Remaining money.Currency
	// Installments are required for model.MethodMultiple.
	Installments []Installment
	// Card is required for model.MethodCard.
	Card     *Card
	Delivery *model.Delivery
	// SeparateCashier leaves money payments pending for the till app.
	SeparateCashier bool
	Now             time.Time
}

// Composer creates and persists payments.
type Composer struct {
	payments repository.PaymentRepository
	tills    repository.TillRepository
}

func NewComposer(payments repository.PaymentRepository, tills repository.TillRepository) *Composer {
	return &Composer{payments: payments, tills: tills}
}

func validMethod(m string) bool {
	switch m {
	case model.MethodMoney, model.MethodBill, model.MethodCheck, model.MethodCard, model.MethodStoreCredit:
		return true
	}
	return false
}

// Compose creates the payments of req.Sale inside tx. FOB freight becomes a
// separate payment addressed to the transporter; the rest follows the chosen
// method. The returned payments sum to req.Remaining.
func (c *Composer) Compose(ctx context.Context, tx *gorm.DB, req Request) ([]model.Payment, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if req.Method != model.MethodMultiple && !validMethod(req.Method) {
		return nil, ErrUnknownMethod
	}

	amount := req.Remaining
	var out []*model.Payment

	if d := req.Delivery; d != nil && d.FreightType == model.FreightFOBPayment && d.Price.IsPositive() {
		method := req.Method
		if method == model.MethodMultiple || method == model.MethodCard {
			method = model.MethodMoney
		}
		var err error
		if amount, err = amount.Sub(d.Price); err != nil {
			return nil, err
		}
		if amount.IsNegative() {
			return nil, apierror.Validation("delivery", "The freight is greater than the amount to pay")
		}
		out = append(out, &model.Payment{
			Method:        method,
			Description:   fmt.Sprintf("Freight of sale %d", req.Sale.Identifier),
			Value:         d.Price,
			DueDate:       req.Now,
			Installment:   0,
			TransporterID: d.TransporterID,
			IsFreight:     true,
		})
	}

	switch req.Method {
	case model.MethodMultiple:
		ps, err := c.installments(req, amount)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	case model.MethodCard:
		if amount.IsPositive() {
			cd, err := cardData(req.Card)
			if err != nil {
				return nil, err
			}
			out = append(out, &model.Payment{
				Method:      model.MethodCard,
				Description: fmt.Sprintf("Card payment of sale %d", req.Sale.Identifier),
				Value:       amount,
				DueDate:     req.Now,
				Installment: 1,
				CardData:    cd,
			})
		}
	default:
		if amount.IsPositive() {
			out = append(out, &model.Payment{
				Method:      req.Method,
				Description: fmt.Sprintf("%s payment of sale %d", methodLabel(req.Method), req.Sale.Identifier),
				Value:       amount,
				DueDate:     req.Now,
				Installment: 1,
			})
		}
	}

	result := make([]model.Payment, 0, len(out))
	for _, p := range out {
		p.GroupID = req.Sale.GroupID
		p.BranchID = req.Sale.BranchID
		p.StationID = req.Sale.StationID
		p.Status = model.PaymentPending
		if p.Method == model.MethodMoney && !req.SeparateCashier {
			p.Pay(req.Now)
		}
		if err := c.payments.Create(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		if p.Status == model.PaymentPaid {
			if err := c.tillEntry(ctx, tx, req.Sale, p); err != nil {
				return nil, err
			}
		}
		result = append(result, *p)
	}
	return result, nil
}

func (c *Composer) installments(req Request, amount money.Currency) ([]*model.Payment, error) {
	if len(req.Installments) == 0 {
		return nil, ErrNoInstallments
	}
	sum := money.Zero
	var out []*model.Payment
	for i, in := range req.Installments {
		if !validMethod(in.Method) || in.Method == model.MethodCard {
			return nil, ErrUnknownMethod
		}
		if !in.Value.IsPositive() {
			return nil, ErrInstallmentNotPos
		}
		var err error
		if sum, err = sum.Add(in.Value); err != nil {
			return nil, err
		}
		due := in.DueDate
		if due.IsZero() {
			due = req.Now
		}
		out = append(out, &model.Payment{
			Method:      in.Method,
			Description: fmt.Sprintf("%d/%d %s of sale %d", i+1, len(req.Installments), methodLabel(in.Method), req.Sale.Identifier),
			Value:       in.Value,
			DueDate:     due,
			Installment: i + 1,
		})
	}
	if !sum.Equal(amount) {
		return nil, apierror.Validationf("installments", "%s (%s of %s)", ErrInstallmentsMismatch.Msg, sum, amount)
	}
	return out, nil
}

func cardData(c *Card) (*model.CreditCardData, error) {
	if c == nil || strings.TrimSpace(c.AuthCode) == "" || strings.TrimSpace(c.Provider) == "" {
		return nil, ErrCardData
	}
	if c.CardType != model.CardCredit && c.CardType != model.CardDebit {
		return nil, ErrCardData
	}
	n := c.Installments
	if n < 1 {
		n = 1
	}
	return &model.CreditCardData{
		AuthCode:     strings.TrimSpace(c.AuthCode),
		CardType:     c.CardType,
		Provider:     strings.TrimSpace(c.Provider),
		Device:       c.Device,
		Installments: n,
	}, nil
}

// tillEntry posts a received payment on the station's open till, if any.
func (c *Composer) tillEntry(ctx context.Context, tx *gorm.DB, sale *model.Sale, p *model.Payment) error {
	till, err := c.tills.FindOpen(ctx, tx, sale.StationID)
	if repository.IsNotFound(err) {
		log.Debug().Str("station_id", sale.StationID.String()).Msg("payment: no open till, entry skipped")
		return nil
	}
	if err != nil {
		return err
	}
	id := p.ID
	return c.tills.AddEntry(ctx, tx, &model.TillEntry{
		TillID:      till.ID,
		PaymentID:   &id,
		Value:       p.Value,
		Description: fmt.Sprintf("Sale %d", sale.Identifier),
	})
}

func methodLabel(m string) string {
	switch m {
	case model.MethodMoney:
		return "Money"
	case model.MethodBill:
		return "Bill"
	case model.MethodCheck:
		return "Check"
	case model.MethodCard:
		return "Card"
	case model.MethodStoreCredit:
		return "Store credit"
	default:
		return m
	}
}

// SplitInstallments divides total into n monthly installments starting at
// first. The rounding remainder goes to the first installment.
func SplitInstallments(total money.Currency, n int, method string, first time.Time) ([]Installment, error) {
	parts, err := total.Split(n)
	if err != nil {
		return nil, err
	}
	out := make([]Installment, n)
	for i, v := range parts {
		out[i] = Installment{Method: method, Value: v, DueDate: first.AddDate(0, i, 0)}
	}
	return out, nil
}

// GroupFor builds the payment group of a new sale.
func GroupFor(clientID *uuid.UUID, method string) *model.PaymentGroup {
	return &model.PaymentGroup{ID: uuid.New(), PayerID: clientID, Method: method}
}
