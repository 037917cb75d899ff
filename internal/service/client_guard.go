package service

import (
	"context"

	"retailpos/internal/apierror"
	"retailpos/internal/event"
	"retailpos/internal/model"
)

var (
	ErrClientInactive = apierror.Validation("client", "The client is inactive")
	ErrClientIndebted = apierror.Validation("client", "The client has overdue payments")
)

// ClientStatusGuard vetoes sales to inactive or indebted clients. Subscribe
// it to event.ClientSaleValidation.
func ClientStatusGuard(_ context.Context, e event.Event) error {
	ev, ok := e.(event.ClientSaleValidationEvent)
	if !ok || ev.Client == nil {
		return nil
	}
	switch ev.Client.Status {
	case model.ClientInactive:
		return ErrClientInactive
	case model.ClientIndebted:
		return ErrClientIndebted
	}
	return nil
}
