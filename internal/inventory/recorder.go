package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"backoffice/internal/core"
	"backoffice/internal/ports"
)

// Recorder stores invoices and drops the cached readiness of the month an
// inventory invoice lands in.
type Recorder struct {
	invoices ports.InvoiceWriter
	checker  *Checker
}

func NewRecorder(invoices ports.InvoiceWriter, checker *Checker) *Recorder {
	return &Recorder{invoices: invoices, checker: checker}
}

func (r *Recorder) Record(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, core.E(core.KindValidation, "inventory.record_invoice", err)
	}
	saved, err := r.invoices.RecordInvoice(ctx, inv)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("record invoice: %w", err)
	}
	if saved.Kind == core.InvoiceInventory {
		r.checker.Invalidate(saved.PropertyID, saved.Year, saved.Month)
		slog.InfoContext(ctx, "Inventory invoice recorded, readiness refreshed",
			"property_id", saved.PropertyID,
			"year", saved.Year,
			"month", saved.Month)
	}
	return saved, nil
}
