package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusDraft    Status = "draft"
	StatusReady    Status = "ready"
	StatusComplete Status = "complete"
)

const (
	SourceManual Source = "manual"
	SourceBatch  Source = "batch"
	SourceReport Source = "report"
)

const (
	InvoiceInventory   InvoiceKind = "inventory"
	InvoiceCleaning    InvoiceKind = "cleaning"
	InvoiceMaintenance InvoiceKind = "maintenance"
	InvoiceRestock     InvoiceKind = "restock"
)

type (
	// Status is the reconciliation stage of a property-month.
	Status string

	// Source identifies who asked for a status transition.
	Source string

	InvoiceKind string

	// PropertyMonth is the unit of reconciliation.
	PropertyMonth struct {
		PropertyID string
		Year       int
		Month      int // 1-12
	}

	MonthEndStatus struct {
		PropertyID     string    `json:"propertyId"`
		PropertyName   string    `json:"name,omitempty"`
		Year           int       `json:"year"`
		Month          int       `json:"monthNumber"`
		Status         Status    `json:"status"`
		Version        int64     `json:"version"`
		OwnerEmailSent bool      `json:"ownerEmailSent"`
		LastUpdated    time.Time `json:"lastUpdated"`
	}

	Property struct {
		ID                  string
		Name                string
		OwnershipPercentage decimal.Decimal
		OwnerName           string
		OwnerEmail          string
		Active              bool
	}

	Booking struct {
		ID          string    `json:"id"`
		PropertyID  string    `json:"propertyId"`
		GuestName   string    `json:"guestName,omitempty"`
		CheckIn     time.Time `json:"checkIn"`
		CheckOut    time.Time `json:"checkOut"`
		NightlyRate Money     `json:"nightlyRate"`
		TotalAmount Money     `json:"totalAmount"`
		CleaningFee Money     `json:"cleaningFee"`
	}

	Invoice struct {
		ID          string
		PropertyID  string
		Kind        InvoiceKind
		Year        int
		Month       int
		Amount      Money
		Description string
		CreatedAt   time.Time
	}
)

var (
	ErrEmptyPropertyID = errors.New("empty property id")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidYear     = errors.New("invalid year")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidStay     = errors.New("check-out must be after check-in")
	ErrInvalidKind     = errors.New("invalid invoice kind")
)

// ParseStatus normalises s and rejects anything outside draft/ready/complete.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusComplete:
		return true
	}
	return false
}

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceBatch, SourceReport:
		return true
	}
	return false
}

func (k InvoiceKind) Valid() bool {
	switch k {
	case InvoiceInventory, InvoiceCleaning, InvoiceMaintenance, InvoiceRestock:
		return true
	}
	return false
}

// ValidateYearMonth checks the calendar part of a property-month key.
func ValidateYearMonth(year, month int) error {
	if year < 2000 || year > 2100 {
		return ErrInvalidYear
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (k PropertyMonth) Validate() error {
	if strings.TrimSpace(k.PropertyID) == "" {
		return ErrEmptyPropertyID
	}
	return ValidateYearMonth(k.Year, k.Month)
}

// Key is the cache and lock key: propertyId|year|monthNumber.
func (k PropertyMonth) Key() string {
	return fmt.Sprintf("%s|%d|%d", k.PropertyID, k.Year, k.Month)
}

func (k PropertyMonth) String() string {
	return fmt.Sprintf("%s %04d-%02d", k.PropertyID, k.Year, k.Month)
}

// MonthBounds returns [first day of month, first day of next month) in UTC.
func MonthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

func (s MonthEndStatus) Key() PropertyMonth {
	return PropertyMonth{PropertyID: s.PropertyID, Year: s.Year, Month: s.Month}
}

// NewDraftStatus is the lazily created record for an unseen property-month.
func NewDraftStatus(key PropertyMonth) MonthEndStatus {
	return MonthEndStatus{
		PropertyID: key.PropertyID,
		Year:       key.Year,
		Month:      key.Month,
		Status:     StatusDraft,
	}
}

// Nights is the number of nights between check-in and check-out dates.
func (b Booking) Nights() int {
	n := DaysBetween(b.CheckIn, b.CheckOut)
	if n < 0 {
		return 0
	}
	return n
}

// Revenue is the total amount, or nightly rate times nights when no total was recorded.
func (b Booking) Revenue() Money {
	if b.TotalAmount.Cents != 0 {
		return b.TotalAmount
	}
	return Money{Cents: b.NightlyRate.Cents * int64(b.Nights())}
}

func (b Booking) Validate() error {
	if strings.TrimSpace(b.PropertyID) == "" {
		return ErrEmptyPropertyID
	}
	if b.CheckIn.IsZero() || b.CheckOut.IsZero() || b.Nights() == 0 {
		return ErrInvalidStay
	}
	if b.NightlyRate.Cents < 0 || b.TotalAmount.Cents < 0 || b.CleaningFee.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (i Invoice) Validate() error {
	if strings.TrimSpace(i.PropertyID) == "" {
		return ErrEmptyPropertyID
	}
	if !i.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := ValidateYearMonth(i.Year, i.Month); err != nil {
		return err
	}
	return i.Amount.Validate()
}

// IsExpense reports whether the invoice counts towards the expenses line
// (cleaning invoices have their own line).
func (i Invoice) IsExpense() bool {
	return i.Kind != InvoiceCleaning
}
