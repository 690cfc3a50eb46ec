// Package export pushes month-end reconciliations to the spreadsheet and
// delivers owner statements.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"backoffice/internal/core"
	"backoffice/internal/lock"
	"backoffice/internal/monthend"
	"backoffice/internal/ports"
	"backoffice/internal/reconcile"
)

// Calculator computes one property-month.
type Calculator interface {
	CalculateFromStore(ctx context.Context, key core.PropertyMonth, dryRun bool) (reconcile.Result, error)
}

// StatusStore is the part of monthend.Store the exporter drives.
type StatusStore interface {
	GetStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error)
	Get(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error)
	BatchSetStatus(ctx context.Context, req monthend.BatchStatusRequest) (monthend.BatchResult, error)
	RequireReady(ctx context.Context, propertyIDs []string, year, month int) error
	MarkOwnerEmailSent(ctx context.Context, key core.PropertyMonth) error
}

var (
	_ Calculator  = (*reconcile.Calculator)(nil)
	_ StatusStore = (*monthend.Store)(nil)
)

// Options configure optional collaborators. Files, Mailer and Publisher may
// be nil; the matching features are then unavailable.
type Options struct {
	Files     ports.FileStore
	Mailer    ports.Mailer
	Publisher ports.NotificationPublisher
	Locker    lock.Locker

	// DriveFolderID receives archived owner statements.
	DriveFolderID string
	// From is the sender address of owner emails.
	From string
}

type Exporter struct {
	props  ports.PropertyReader
	calc   Calculator
	store  StatusStore
	sheets ports.SpreadsheetWriter
	opts   Options
}

func New(props ports.PropertyReader, calc Calculator, store StatusStore, sheets ports.SpreadsheetWriter, opts Options) *Exporter {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	return &Exporter{props: props, calc: calc, store: store, sheets: sheets, opts: opts}
}

// ExportResult summarises one export run.
type ExportResult struct {
	URL        string                `json:"url"`
	SheetTitle string                `json:"sheetTitle"`
	Exported   int                   `json:"exported"`
	Completed  int                   `json:"completed"`
	Failed     int                   `json:"failed"`
	Results    []monthend.ItemResult `json:"results,omitempty"`
}

func (r ExportResult) Summary() string {
	return fmt.Sprintf("Month-end export complete: %d exported, %d completed, %d failed", r.Exported, r.Completed, r.Failed)
}

// SheetTitle names the tab holding one month.
func SheetTitle(year, month int) string {
	return fmt.Sprintf("%04d-%02d Month End", year, month)
}

var header = []any{
	"Property ID", "Property", "Bookings", "Nights", "Revenue", "Cleaning",
	"Expenses", "Net", "Ownership %", "Owner Profit", "Calculation", "Status",
}

// ExportMonthEnd writes one row per active property to the month's tab, then
// completes every property that was ready. When any ready property lacks its
// inventory invoice, or its check fails, the export stops before touching the
// sheet and returns the *inventory.BlockedError naming them. Any failure
// before the sheet is written leaves every status untouched. Runs for the
// same month are serialised.
func (e *Exporter) ExportMonthEnd(ctx context.Context, year, month int) (ExportResult, error) {
	const op = "export.month_end"
	if err := core.ValidateYearMonth(year, month); err != nil {
		return ExportResult{}, core.E(core.KindValidation, op, err)
	}

	release, err := e.opts.Locker.Acquire(ctx, fmt.Sprintf("export:%04d-%02d", year, month))
	if err != nil {
		return ExportResult{}, fmt.Errorf("lock export: %w", err)
	}
	defer release()

	statuses, err := e.store.GetStatuses(ctx, year, month)
	if err != nil {
		return ExportResult{}, fmt.Errorf("load statuses: %w", err)
	}

	rows := make([][]any, 0, len(statuses)+1)
	rows = append(rows, header)
	var ready []string
	for _, st := range statuses {
		res, err := e.calc.CalculateFromStore(ctx, st.Key(), true)
		if err != nil {
			return ExportResult{}, fmt.Errorf("calculate %s: %w", st.Key(), err)
		}
		rows = append(rows, row(res, st.Status))
		if st.Status == core.StatusReady {
			ready = append(ready, st.PropertyID)
		}
	}

	if len(ready) > 0 {
		if err := e.store.RequireReady(ctx, ready, year, month); err != nil {
			slog.WarnContext(ctx, "Month-end export blocked",
				"year", year,
				"month", month,
				"error", err)
			return ExportResult{}, err
		}
	}

	title := SheetTitle(year, month)
	sheetID, err := e.sheets.EnsureSheet(ctx, title)
	if err != nil {
		return ExportResult{}, fmt.Errorf("ensure sheet %q: %w", title, err)
	}
	if err := e.sheets.WriteValues(ctx, ports.A1Range(title, "A1"), rows); err != nil {
		return ExportResult{}, fmt.Errorf("write sheet %q: %w", title, err)
	}

	out := ExportResult{URL: e.sheets.URL(sheetID), SheetTitle: title, Exported: len(statuses)}

	if len(ready) > 0 {
		batch, err := e.store.BatchSetStatus(ctx, monthend.BatchStatusRequest{
			PropertyIDs: ready,
			Year:        year,
			MonthNumber: month,
			Status:      core.StatusComplete,
			FromStatus:  core.StatusReady,
			Source:      core.SourceReport,
		})
		if err != nil {
			return out, fmt.Errorf("complete ready properties: %w", err)
		}
		out.Results = batch.Results
		for _, it := range batch.Results {
			switch {
			case it.Success:
				out.Completed++
				e.publish(ctx, core.PropertyMonth{PropertyID: it.PropertyID, Year: year, Month: month})
			case !it.Skipped:
				out.Failed++
			}
		}
	}

	slog.InfoContext(ctx, out.Summary(),
		"year", year,
		"month", month,
		"sheet", title,
		"url", out.URL)
	return out, nil
}

func (e *Exporter) publish(ctx context.Context, key core.PropertyMonth) {
	if e.opts.Publisher == nil {
		return
	}
	if err := e.opts.Publisher.PublishOwnerNotification(ctx, key); err != nil {
		slog.WarnContext(ctx, "Failed to publish owner notification",
			"property_id", key.PropertyID, "year", key.Year, "month", key.Month, "error", err)
	}
}

func row(r reconcile.Result, st core.Status) []any {
	return []any{
		r.PropertyID,
		r.PropertyName,
		r.BookingCount,
		r.Nights,
		r.TotalRevenue.String(),
		r.TotalCleaning.String(),
		r.Expenses.String(),
		r.NetAmount.String(),
		r.OwnershipPercentage.String(),
		r.OwnerProfit.String(),
		r.Status,
		string(st),
	}
}

var errNotConfigured = errors.New("not configured")
