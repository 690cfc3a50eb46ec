// Package memory provides in-process adapters for every port, used in dev
// mode (DATA_BACKEND=memory) and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backoffice/internal/core"
	"backoffice/internal/ports"
)

// Store keeps properties, bookings, invoices and month-end statuses in maps.
type Store struct {
	mu         sync.Mutex
	properties map[string]core.Property
	bookings   []core.Booking
	invoices   []core.Invoice
	statuses   map[string]core.MonthEndStatus
	now        func() time.Time
}

var (
	_ ports.PropertyReader   = (*Store)(nil)
	_ ports.BookingReader    = (*Store)(nil)
	_ ports.BookingWriter    = (*Store)(nil)
	_ ports.InvoiceReader    = (*Store)(nil)
	_ ports.InvoiceWriter    = (*Store)(nil)
	_ ports.InventoryLookup  = (*Store)(nil)
	_ ports.StatusRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		properties: make(map[string]core.Property),
		statuses:   make(map[string]core.MonthEndStatus),
		now:        time.Now,
	}
}

// NewFromFile builds a store seeded by ReadSeedFile. A missing file yields
// an empty store.
func NewFromFile(path string) (*Store, error) {
	props, err := ReadSeedFile(path)
	if err != nil {
		return nil, err
	}
	s := New()
	for _, p := range props {
		s.PutProperty(p)
	}
	return s, nil
}

// ReadSeedFile parses one "id|name|ownership%|owner name|owner email" line
// per property. Blank lines and lines starting with # are skipped; a missing
// file yields no properties.
func ReadSeedFile(path string) ([]core.Property, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var out []core.Property
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := parseSeedLine(text)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return out, nil
}

func parseSeedLine(text string) (core.Property, error) {
	parts := strings.Split(text, "|")
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return core.Property{}, core.ErrEmptyPropertyID
	}
	pct := decimal.NewFromInt(100)
	if parts[2] != "" {
		d, err := decimal.NewFromString(parts[2])
		if err != nil {
			return core.Property{}, fmt.Errorf("ownership percentage %q: %w", parts[2], err)
		}
		pct = d
	}
	name := parts[1]
	if name == "" {
		name = parts[0]
	}
	return core.Property{
		ID:                  parts[0],
		Name:                name,
		OwnershipPercentage: pct,
		OwnerName:           parts[3],
		OwnerEmail:          parts[4],
		Active:              true,
	}, nil
}

// PutProperty inserts or replaces a property.
func (s *Store) PutProperty(p core.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = p
}

func (s *Store) GetProperty(_ context.Context, id string) (core.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return core.Property{}, core.Errorf(core.KindNotFound, "memory.get_property", "property %q not found", id)
	}
	return p, nil
}

func (s *Store) ListProperties(_ context.Context, activeOnly bool) ([]core.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Property, 0, len(s.properties))
	for _, p := range s.properties {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddBooking stores b, assigning an id when it has none.
func (s *Store) AddBooking(_ context.Context, b core.Booking) (core.Booking, error) {
	if err := b.Validate(); err != nil {
		return core.Booking{}, core.E(core.KindValidation, "memory.add_booking", err)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, b)
	return b, nil
}

func (s *Store) ListBookings(_ context.Context, propertyID string, from, to time.Time) ([]core.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Booking
	for _, b := range s.bookings {
		if b.PropertyID != propertyID {
			continue
		}
		if !b.CheckIn.Before(to) || !b.CheckOut.After(from) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}

// RecordInvoice stores inv, assigning an id and timestamp when missing.
func (s *Store) RecordInvoice(_ context.Context, inv core.Invoice) (core.Invoice, error) {
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, core.E(core.KindValidation, "memory.record_invoice", err)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
	return inv, nil
}

func (s *Store) ListInvoices(_ context.Context, propertyID string, year, month int) ([]core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Invoice
	for _, inv := range s.invoices {
		if inv.PropertyID == propertyID && inv.Year == year && inv.Month == month {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *Store) HasInventoryInvoice(ctx context.Context, propertyID string, year, month int) (bool, error) {
	found, err := s.InventoryInvoicesExist(ctx, []string{propertyID}, year, month)
	if err != nil {
		return false, err
	}
	return found[propertyID], nil
}

func (s *Store) InventoryInvoicesExist(_ context.Context, propertyIDs []string, year, month int) (map[string]bool, error) {
	want := make(map[string]bool, len(propertyIDs))
	for _, id := range propertyIDs {
		want[id] = false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Kind != core.InvoiceInventory || inv.Year != year || inv.Month != month {
			continue
		}
		if _, ok := want[inv.PropertyID]; ok {
			want[inv.PropertyID] = true
		}
	}
	return want, nil
}

func (s *Store) GetStatus(_ context.Context, key core.PropertyMonth) (core.MonthEndStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[key.Key()]
	if !ok {
		return core.MonthEndStatus{}, core.Errorf(core.KindNotFound, "memory.get_status", "no status for %s", key)
	}
	return st, nil
}

func (s *Store) ListStatuses(_ context.Context, year, month int) ([]core.MonthEndStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthEndStatus
	for _, st := range s.statuses {
		if st.Year == year && st.Month == month {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out, nil
}

func (s *Store) CompareAndSetStatus(_ context.Context, st core.MonthEndStatus, expectedVersion int64) (core.MonthEndStatus, error) {
	k := st.Key().Key()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.statuses[k]
	var version int64
	if exists {
		version = cur.Version
	}
	if version != expectedVersion {
		return core.MonthEndStatus{}, core.Errorf(core.KindConflict, "memory.cas_status",
			"status %s changed (version %d, expected %d)", st.Key(), version, expectedVersion)
	}
	st.Version = version + 1
	if st.LastUpdated.IsZero() {
		st.LastUpdated = s.now().UTC()
	}
	// The sent flag is owned by SetOwnerEmailSent.
	if exists {
		st.OwnerEmailSent = cur.OwnerEmailSent
	}
	s.statuses[k] = st
	return st, nil
}

func (s *Store) SetOwnerEmailSent(_ context.Context, key core.PropertyMonth, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[key.Key()]
	if !ok {
		return core.Errorf(core.KindNotFound, "memory.set_owner_email_sent", "no status for %s", key)
	}
	st.OwnerEmailSent = sent
	s.statuses[key.Key()] = st
	return nil
}
