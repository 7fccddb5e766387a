package service

import (
	"context"
	"log"

	"partspos/internal/domain"
)

// Notifier delivers invoice copies to customers who left an email
// address. Delivery is best-effort and must never block or fail a sale.
type Notifier interface {
	InvoiceIssued(ctx context.Context, email string, invoice domain.Invoice) error
}

// LogNotifier is the default transport: it only records that a
// notification would have been sent.
type LogNotifier struct{}

func (LogNotifier) InvoiceIssued(_ context.Context, email string, invoice domain.Invoice) error {
	log.Printf("[notify] invoice %s issued to %s total=%s USD", invoice.Number, email, invoice.TotalUSD.StringFixed(2))
	return nil
}
