// Package storage is the SQLite relational store for properties, bookings,
// invoices and month-end statuses.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"backoffice/internal/core"
	"backoffice/internal/ports"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ ports.PropertyReader   = (*SQLiteRepository)(nil)
	_ ports.BookingReader    = (*SQLiteRepository)(nil)
	_ ports.BookingWriter    = (*SQLiteRepository)(nil)
	_ ports.InvoiceReader    = (*SQLiteRepository)(nil)
	_ ports.InvoiceWriter    = (*SQLiteRepository)(nil)
	_ ports.InventoryLookup  = (*SQLiteRepository)(nil)
	_ ports.StatusRepository = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertProperty inserts or replaces a property.
func (r *SQLiteRepository) UpsertProperty(ctx context.Context, p core.Property) error {
	if strings.TrimSpace(p.ID) == "" {
		return core.E(core.KindValidation, "storage.upsert_property", core.ErrEmptyPropertyID)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO properties (id, name, ownership_percentage, owner_name, owner_email, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			ownership_percentage = excluded.ownership_percentage,
			owner_name = excluded.owner_name,
			owner_email = excluded.owner_email,
			active = excluded.active`,
		p.ID, p.Name, p.OwnershipPercentage.String(), p.OwnerName, p.OwnerEmail, p.Active)
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

const propertyColumns = `id, name, ownership_percentage, owner_name, owner_email, active`

func scanProperty(row interface{ Scan(...any) error }) (core.Property, error) {
	var (
		p   core.Property
		pct string
	)
	if err := row.Scan(&p.ID, &p.Name, &pct, &p.OwnerName, &p.OwnerEmail, &p.Active); err != nil {
		return core.Property{}, err
	}
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return core.Property{}, fmt.Errorf("property %s ownership percentage %q: %w", p.ID, pct, err)
	}
	p.OwnershipPercentage = d
	return p, nil
}

func (r *SQLiteRepository) GetProperty(ctx context.Context, id string) (core.Property, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Property{}, core.Errorf(core.KindNotFound, "storage.get_property", "property %q not found", id)
	}
	if err != nil {
		return core.Property{}, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListProperties(ctx context.Context, activeOnly bool) ([]core.Property, error) {
	q := `SELECT ` + propertyColumns + ` FROM properties`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []core.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddBooking stores b, assigning an id when it has none.
func (r *SQLiteRepository) AddBooking(ctx context.Context, b core.Booking) (core.Booking, error) {
	if err := b.Validate(); err != nil {
		return core.Booking{}, core.E(core.KindValidation, "storage.add_booking", err)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (id, property_id, guest_name, check_in, check_out,
			nightly_rate_cents, total_amount_cents, cleaning_fee_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PropertyID, b.GuestName,
		core.DateOnly(b.CheckIn).Format(dateLayout), core.DateOnly(b.CheckOut).Format(dateLayout),
		b.NightlyRate.Cents, b.TotalAmount.Cents, b.CleaningFee.Cents)
	if err != nil {
		return core.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]core.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, property_id, guest_name, check_in, check_out,
			nightly_rate_cents, total_amount_cents, cleaning_fee_cents
		FROM bookings
		WHERE property_id = ? AND check_in < ? AND check_out > ?
		ORDER BY check_in`,
		propertyID, core.DateOnly(to).Format(dateLayout), core.DateOnly(from).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []core.Booking
	for rows.Next() {
		var (
			b             core.Booking
			checkIn, outS string
		)
		if err := rows.Scan(&b.ID, &b.PropertyID, &b.GuestName, &checkIn, &outS,
			&b.NightlyRate.Cents, &b.TotalAmount.Cents, &b.CleaningFee.Cents); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		if b.CheckIn, err = time.Parse(dateLayout, checkIn); err != nil {
			return nil, fmt.Errorf("booking %s check-in: %w", b.ID, err)
		}
		if b.CheckOut, err = time.Parse(dateLayout, outS); err != nil {
			return nil, fmt.Errorf("booking %s check-out: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecordInvoice stores inv, assigning an id and timestamp when missing.
func (r *SQLiteRepository) RecordInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, core.E(core.KindValidation, "storage.record_invoice", err)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (id, property_id, kind, year, month, amount_cents, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.PropertyID, string(inv.Kind), inv.Year, inv.Month, inv.Amount.Cents,
		inv.Description, inv.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return core.Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	slog.InfoContext(ctx, "Invoice recorded",
		"id", inv.ID,
		"property_id", inv.PropertyID,
		"kind", string(inv.Kind),
		"year", inv.Year,
		"month", inv.Month,
		"amount_cents", inv.Amount.Cents)
	return inv, nil
}

func (r *SQLiteRepository) ListInvoices(ctx context.Context, propertyID string, year, month int) ([]core.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, property_id, kind, year, month, amount_cents, description, created_at
		FROM invoices
		WHERE property_id = ? AND year = ? AND month = ?
		ORDER BY created_at`,
		propertyID, year, month)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		var (
			inv     core.Invoice
			kind    string
			created string
		)
		if err := rows.Scan(&inv.ID, &inv.PropertyID, &kind, &inv.Year, &inv.Month,
			&inv.Amount.Cents, &inv.Description, &created); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Kind = core.InvoiceKind(kind)
		inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) HasInventoryInvoice(ctx context.Context, propertyID string, year, month int) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM invoices
		WHERE property_id = ? AND year = ? AND month = ? AND kind = 'inventory'`,
		propertyID, year, month).Scan(&n)
	if err != nil {
		return false, core.E(core.KindTransport, "storage.has_inventory_invoice", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) InventoryInvoicesExist(ctx context.Context, propertyIDs []string, year, month int) (map[string]bool, error) {
	out := make(map[string]bool, len(propertyIDs))
	if len(propertyIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(propertyIDs)+2)
	args = append(args, year, month)
	for _, id := range propertyIDs {
		out[id] = false
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(propertyIDs)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT property_id FROM invoices
		WHERE kind = 'inventory' AND year = ? AND month = ? AND property_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, core.E(core.KindTransport, "storage.inventory_invoices_exist", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan property id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

const statusColumns = `property_id, year, month, status, version, owner_email_sent, last_updated`

func scanStatus(row interface{ Scan(...any) error }) (core.MonthEndStatus, error) {
	var (
		st      core.MonthEndStatus
		status  string
		updated string
	)
	if err := row.Scan(&st.PropertyID, &st.Year, &st.Month, &status, &st.Version, &st.OwnerEmailSent, &updated); err != nil {
		return core.MonthEndStatus{}, err
	}
	st.Status = core.Status(status)
	st.LastUpdated, _ = time.Parse(time.RFC3339Nano, updated)
	return st, nil
}

func (r *SQLiteRepository) GetStatus(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM month_end_statuses
		WHERE property_id = ? AND year = ? AND month = ?`, key.PropertyID, key.Year, key.Month)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthEndStatus{}, core.Errorf(core.KindNotFound, "storage.get_status", "no status for %s", key)
	}
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

func (r *SQLiteRepository) ListStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+statusColumns+` FROM month_end_statuses
		WHERE year = ? AND month = ? ORDER BY property_id`, year, month)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var out []core.MonthEndStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CompareAndSetStatus inserts when expectedVersion is 0 and otherwise updates
// only the row still at expectedVersion.
func (r *SQLiteRepository) CompareAndSetStatus(ctx context.Context, st core.MonthEndStatus, expectedVersion int64) (core.MonthEndStatus, error) {
	const op = "storage.cas_status"
	if st.LastUpdated.IsZero() {
		st.LastUpdated = r.now().UTC()
	}
	updated := st.LastUpdated.UTC().Format(time.RFC3339Nano)

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO month_end_statuses (property_id, year, month, status, version, owner_email_sent, last_updated)
			VALUES (?, ?, ?, ?, 1, 0, ?)
			ON CONFLICT(property_id, year, month) DO NOTHING`,
			st.PropertyID, st.Year, st.Month, string(st.Status), updated)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE month_end_statuses
			SET status = ?, last_updated = ?, version = version + 1
			WHERE property_id = ? AND year = ? AND month = ? AND version = ?`,
			string(st.Status), updated, st.PropertyID, st.Year, st.Month, expectedVersion)
	}
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("write status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("write status: %w", err)
	}
	if n == 0 {
		return core.MonthEndStatus{}, core.Errorf(core.KindConflict, op,
			"status %s changed since version %d", st.Key(), expectedVersion)
	}
	return r.GetStatus(ctx, st.Key())
}

func (r *SQLiteRepository) SetOwnerEmailSent(ctx context.Context, key core.PropertyMonth, sent bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE month_end_statuses SET owner_email_sent = ?
		WHERE property_id = ? AND year = ? AND month = ?`,
		sent, key.PropertyID, key.Year, key.Month)
	if err != nil {
		return fmt.Errorf("set owner email sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Errorf(core.KindNotFound, "storage.set_owner_email_sent", "no status for %s", key)
	}
	return nil
}
