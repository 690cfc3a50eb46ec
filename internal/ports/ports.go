// Package ports declares the outbound contracts the month-end services
// depend on. Adapters live in internal/google, internal/storage and
// internal/memory.
package ports

import (
	"context"
	"strings"
	"time"

	"backoffice/internal/core"
)

type (
	// SpreadsheetWriter is the subset of the Sheets API used by the exporter.
	SpreadsheetWriter interface {
		// EnsureSheet returns the id of the tab named title, creating it when missing.
		EnsureSheet(ctx context.Context, title string) (sheetID int64, err error)
		WriteValues(ctx context.Context, rng string, rows [][]any) error
		// URL links to a tab of the spreadsheet.
		URL(sheetID int64) string
	}

	FileUpload struct {
		FolderID string
		Name     string
		MimeType string
		Content  []byte
	}

	StoredFile struct {
		ID      string
		Name    string
		WebLink string
	}

	// FileStore is the subset of the Drive API used to archive statements.
	FileStore interface {
		Upload(ctx context.Context, f FileUpload) (StoredFile, error)
		// Replace overwrites the content of fileID, keeping its id and shares.
		Replace(ctx context.Context, fileID string, content []byte) (StoredFile, error)
		// Share grants email the given role ("reader", "writer") on fileID.
		Share(ctx context.Context, fileID, email, role string) error
		// Find returns the first file in folderID named name, or a NotFound error.
		Find(ctx context.Context, folderID, name string) (StoredFile, error)
	}

	Email struct {
		From     string
		To       string
		Subject  string
		HTMLBody string
	}

	Mailer interface {
		Send(ctx context.Context, e Email) error
	}

	PropertyReader interface {
		GetProperty(ctx context.Context, id string) (core.Property, error)
		ListProperties(ctx context.Context, activeOnly bool) ([]core.Property, error)
	}

	BookingReader interface {
		// ListBookings returns bookings of propertyID whose stay overlaps [from, to).
		ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]core.Booking, error)
	}

	BookingWriter interface {
		AddBooking(ctx context.Context, b core.Booking) (core.Booking, error)
	}

	InvoiceReader interface {
		ListInvoices(ctx context.Context, propertyID string, year, month int) ([]core.Invoice, error)
	}

	InvoiceWriter interface {
		RecordInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
	}

	// InventoryLookup answers whether an inventory invoice exists for a property-month.
	InventoryLookup interface {
		HasInventoryInvoice(ctx context.Context, propertyID string, year, month int) (bool, error)
		// InventoryInvoicesExist resolves many properties in one round trip.
		InventoryInvoicesExist(ctx context.Context, propertyIDs []string, year, month int) (map[string]bool, error)
	}

	// StatusRepository persists month-end status rows.
	StatusRepository interface {
		// GetStatus returns a NotFound error for a property-month never written.
		GetStatus(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error)
		ListStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error)
		// CompareAndSetStatus writes st when the stored version equals
		// expectedVersion (0 inserts a new row) and returns the stored row.
		// A mismatch yields a Conflict error.
		CompareAndSetStatus(ctx context.Context, st core.MonthEndStatus, expectedVersion int64) (core.MonthEndStatus, error)
		SetOwnerEmailSent(ctx context.Context, key core.PropertyMonth, sent bool) error
	}

	// NotificationPublisher hands an owner notification off to the worker.
	NotificationPublisher interface {
		PublishOwnerNotification(ctx context.Context, key core.PropertyMonth) error
	}
)

// A1Range quotes title for use in an A1 range, e.g. 'My Tab'!A1:N20.
func A1Range(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}
