// Package reconcile computes the revenue, cost and owner split of one
// property-month.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
	"backoffice/internal/ports"
)

const (
	StatusCalculated = "calculated"
	StatusNoBookings = "No bookings found"
)

// StatusSource reads, and on a persisting run creates, the month-end record.
type StatusSource interface {
	Get(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error)
	Ensure(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error)
}

// CalculateRequest selects a property-month. Month may carry a month name or
// number; MonthNumber wins when both are set. A nil Bookings slice loads
// bookings from the store.
type CalculateRequest struct {
	PropertyID   string         `json:"propertyId"`
	PropertyName string         `json:"propertyName"`
	Year         int            `json:"year"`
	Month        string         `json:"month"`
	MonthNumber  int            `json:"monthNumber"`
	Bookings     []core.Booking `json:"bookings"`
	DryRun       bool           `json:"dryRun"`
}

type Result struct {
	PropertyID          string          `json:"propertyId"`
	PropertyName        string          `json:"propertyName"`
	Year                int             `json:"year"`
	Month               string          `json:"month"`
	MonthNumber         int             `json:"monthNumber"`
	BookingCount        int             `json:"bookingCount"`
	Nights              int             `json:"nights"`
	TotalRevenue        core.Money      `json:"totalRevenue"`
	TotalCleaning       core.Money      `json:"totalCleaning"`
	Expenses            core.Money      `json:"expenses"`
	NetAmount           core.Money      `json:"netAmount"`
	OwnershipPercentage decimal.Decimal `json:"ownershipPercentage"`
	OwnerProfit         core.Money      `json:"ownerProfit"`
	Status              string          `json:"status"`
	MonthEndStatus      core.Status     `json:"monthEndStatus"`
}

type Calculator struct {
	props    ports.PropertyReader
	bookings ports.BookingReader
	invoices ports.InvoiceReader
	statuses StatusSource
}

func NewCalculator(props ports.PropertyReader, bookings ports.BookingReader, invoices ports.InvoiceReader, statuses StatusSource) *Calculator {
	return &Calculator{props: props, bookings: bookings, invoices: invoices, statuses: statuses}
}

// ResolveMonth returns the month number named by req.
func (r CalculateRequest) ResolveMonth() (int, error) {
	if r.MonthNumber != 0 {
		return r.MonthNumber, nil
	}
	return ParseMonth(r.Month)
}

// ParseMonth accepts 1-12 or an English month name ("March", "mar").
func ParseMonth(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, core.ErrInvalidMonth
		}
		return n, nil
	}
	if len(s) >= 3 {
		for m := time.January; m <= time.December; m++ {
			if strings.HasPrefix(strings.ToLower(m.String()), strings.ToLower(s)) {
				return int(m), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrInvalidMonth, s)
}

// Calculate builds the reconciliation for one property-month. Bookings of
// other properties or outside the month are ignored.
func (c *Calculator) Calculate(ctx context.Context, req CalculateRequest) (Result, error) {
	const op = "reconcile.calculate"

	month, err := req.ResolveMonth()
	if err != nil {
		return Result{}, core.E(core.KindValidation, op, err)
	}
	key := core.PropertyMonth{PropertyID: req.PropertyID, Year: req.Year, Month: month}
	if err := key.Validate(); err != nil {
		return Result{}, core.E(core.KindValidation, op, err)
	}

	prop, err := c.props.GetProperty(ctx, key.PropertyID)
	if err != nil {
		return Result{}, fmt.Errorf("get property: %w", err)
	}
	start, end := core.MonthBounds(key.Year, key.Month)

	bookings := req.Bookings
	if bookings == nil {
		bookings, err = c.bookings.ListBookings(ctx, key.PropertyID, start, end)
		if err != nil {
			return Result{}, fmt.Errorf("list bookings: %w", err)
		}
	}

	res := Result{
		PropertyID:          key.PropertyID,
		PropertyName:        req.PropertyName,
		Year:                key.Year,
		Month:               time.Month(key.Month).String(),
		MonthNumber:         key.Month,
		OwnershipPercentage: prop.OwnershipPercentage,
	}
	if res.PropertyName == "" {
		res.PropertyName = prop.Name
	}

	for _, b := range bookings {
		if b.PropertyID != "" && b.PropertyID != key.PropertyID {
			continue
		}
		nights, revenue := MonthShare(b, start, end)
		if nights == 0 {
			continue
		}
		res.BookingCount++
		res.Nights += nights
		res.TotalRevenue = res.TotalRevenue.Add(revenue)
		if last := LastNight(b); !last.Before(start) && last.Before(end) {
			res.TotalCleaning = res.TotalCleaning.Add(b.CleaningFee)
		}
	}

	invoices, err := c.invoices.ListInvoices(ctx, key.PropertyID, key.Year, key.Month)
	if err != nil {
		return Result{}, fmt.Errorf("list invoices: %w", err)
	}
	for _, inv := range invoices {
		if inv.IsExpense() {
			res.Expenses = res.Expenses.Add(inv.Amount)
		} else {
			res.TotalCleaning = res.TotalCleaning.Add(inv.Amount)
		}
	}

	res.NetAmount = res.TotalRevenue.Sub(res.TotalCleaning).Sub(res.Expenses)
	res.OwnerProfit = res.NetAmount.Percent(prop.OwnershipPercentage)
	res.Status = StatusCalculated
	if res.BookingCount == 0 {
		res.Status = StatusNoBookings
	}

	var st core.MonthEndStatus
	if req.DryRun {
		st, err = c.statuses.Get(ctx, key)
	} else {
		st, err = c.statuses.Ensure(ctx, key)
	}
	if err != nil {
		return Result{}, fmt.Errorf("month-end status: %w", err)
	}
	res.MonthEndStatus = st.Status

	slog.DebugContext(ctx, "Reconciliation calculated",
		"property_id", key.PropertyID,
		"year", key.Year,
		"month", key.Month,
		"bookings", res.BookingCount,
		"revenue", res.TotalRevenue.String(),
		"net", res.NetAmount.String(),
		"dry_run", req.DryRun)
	return res, nil
}

// CalculateFromStore reconciles using the bookings held by the store.
func (c *Calculator) CalculateFromStore(ctx context.Context, key core.PropertyMonth, dryRun bool) (Result, error) {
	return c.Calculate(ctx, CalculateRequest{
		PropertyID:  key.PropertyID,
		Year:        key.Year,
		MonthNumber: key.Month,
		DryRun:      dryRun,
	})
}
