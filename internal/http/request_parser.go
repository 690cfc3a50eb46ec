package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backoffice/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads r's body into v. Malformed or oversized bodies are
// Validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "http.decode"
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return core.Errorf(core.KindValidation, op, "request body is empty")
		case errors.As(err, &maxErr):
			return core.Errorf(core.KindValidation, op, "request body exceeds %d bytes", maxErr.Limit)
		}
		return core.Errorf(core.KindValidation, op, "invalid JSON body: %v", err)
	}
	return nil
}

// queryInt parses a required integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, core.Errorf(core.KindValidation, "http.query", "missing query parameter %q", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Errorf(core.KindValidation, "http.query", "query parameter %q must be a number", name)
	}
	return n, nil
}

// parseYearMonth reads year and month from the query string. month may be
// a number or a month name; monthNumber is accepted as an alias.
func parseYearMonth(r *http.Request) (year, month int, err error) {
	year, err = queryInt(r, "year")
	if err != nil {
		return 0, 0, err
	}
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("month"))
	if raw == "" {
		raw = strings.TrimSpace(q.Get("monthNumber"))
	}
	if raw == "" {
		return 0, 0, core.Errorf(core.KindValidation, "http.query", "missing query parameter \"month\"")
	}
	if month, err = strconv.Atoi(raw); err != nil {
		if month, err = parseMonthName(raw); err != nil {
			return 0, 0, core.E(core.KindValidation, "http.query", err)
		}
	}
	if err := core.ValidateYearMonth(year, month); err != nil {
		return 0, 0, core.E(core.KindValidation, "http.query", err)
	}
	return year, month, nil
}

func parseMonthName(s string) (int, error) {
	for m := time.January; m <= time.December; m++ {
		name := m.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return int(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrInvalidMonth, s)
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return core.DateOnly(t), nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

type bookingPayload struct {
	ID          string     `json:"id"`
	PropertyID  string     `json:"propertyId"`
	GuestName   string     `json:"guestName"`
	CheckIn     string     `json:"checkIn"`
	CheckOut    string     `json:"checkOut"`
	NightlyRate core.Money `json:"nightlyRate"`
	TotalAmount core.Money `json:"totalAmount"`
	CleaningFee core.Money `json:"cleaningFee"`
}

func (p bookingPayload) toBooking() (core.Booking, error) {
	in, err := parseDate(p.CheckIn)
	if err != nil {
		return core.Booking{}, fmt.Errorf("checkIn: %w", err)
	}
	out, err := parseDate(p.CheckOut)
	if err != nil {
		return core.Booking{}, fmt.Errorf("checkOut: %w", err)
	}
	return core.Booking{
		ID:          sanitizeInput(p.ID),
		PropertyID:  sanitizeInput(p.PropertyID),
		GuestName:   sanitizeInput(p.GuestName),
		CheckIn:     in,
		CheckOut:    out,
		NightlyRate: p.NightlyRate,
		TotalAmount: p.TotalAmount,
		CleaningFee: p.CleaningFee,
	}, nil
}

// toBookings keeps nil for an absent list so the calculator falls back to
// stored bookings.
func toBookings(ps []bookingPayload) ([]core.Booking, error) {
	if ps == nil {
		return nil, nil
	}
	out := make([]core.Booking, 0, len(ps))
	for i, p := range ps {
		b, err := p.toBooking()
		if err != nil {
			return nil, core.Errorf(core.KindValidation, "http.bookings", "booking %d: %v", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

type invoicePayload struct {
	PropertyID  string     `json:"propertyId"`
	Kind        string     `json:"kind"`
	Year        int        `json:"year"`
	Month       int        `json:"month"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
}

func (p invoicePayload) toInvoice() core.Invoice {
	return core.Invoice{
		PropertyID:  sanitizeInput(p.PropertyID),
		Kind:        core.InvoiceKind(strings.ToLower(strings.TrimSpace(p.Kind))),
		Year:        p.Year,
		Month:       p.Month,
		Amount:      p.Amount,
		Description: sanitizeInput(p.Description),
	}
}
