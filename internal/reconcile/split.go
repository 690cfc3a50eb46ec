package reconcile

import (
	"time"

	"backoffice/internal/core"
)

// MonthShare returns the nights of b that fall in [start, end) and the part
// of its revenue they earn.
//
// Revenue is allocated by cumulative floor: the share of the first k nights
// is floor(revenue*k/nights), and a month receives the difference between
// the cumulative shares at its two edges. Summing the shares of every month a
// stay touches therefore yields the booking revenue exactly.
func MonthShare(b core.Booking, start, end time.Time) (int, core.Money) {
	total := b.Nights()
	if total == 0 {
		return 0, core.Money{}
	}
	before := clamp(core.DaysBetween(b.CheckIn, start), 0, total)
	upTo := clamp(core.DaysBetween(b.CheckIn, end), 0, total)
	nights := upTo - before
	if nights <= 0 {
		return 0, core.Money{}
	}

	revenue := b.Revenue().Cents
	cum := func(k int) int64 { return revenue * int64(k) / int64(total) }
	return nights, core.Money{Cents: cum(upTo) - cum(before)}
}

// LastNight is the date of the final night of the stay.
func LastNight(b core.Booking) time.Time {
	return core.DateOnly(b.CheckOut).AddDate(0, 0, -1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
