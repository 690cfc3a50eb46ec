package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
	"backoffice/internal/inventory"
	"backoffice/internal/memory"
	"backoffice/internal/monthend"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthShare_SplitsAcrossMonthEnd(t *testing.T) {
	tests := []struct {
		name    string
		revenue int64
	}{
		{"even", 60000},
		{"odd cents", 10001},
		{"one cent", 1},
		{"prime", 99997},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := core.Booking{
				PropertyID:  "p",
				CheckIn:     day(2025, time.January, 28),
				CheckOut:    day(2025, time.February, 3),
				TotalAmount: core.Money{Cents: tt.revenue},
			}
			janStart, janEnd := core.MonthBounds(2025, 1)
			febStart, febEnd := core.MonthBounds(2025, 2)

			janNights, jan := MonthShare(b, janStart, janEnd)
			febNights, feb := MonthShare(b, febStart, febEnd)

			if janNights != 4 || febNights != 2 {
				t.Fatalf("expected 4+2 nights, got %d+%d", janNights, febNights)
			}
			if jan.Cents+feb.Cents != tt.revenue {
				t.Fatalf("shares %d + %d do not sum to %d", jan.Cents, feb.Cents, tt.revenue)
			}
			if tt.revenue == 60000 && (jan.Cents != 40000 || feb.Cents != 20000) {
				t.Fatalf("expected 400.00 / 200.00, got %s / %s", jan, feb)
			}
		})
	}
}

func TestMonthShare_ThreeMonthsSumExactly(t *testing.T) {
	b := core.Booking{
		CheckIn:     day(2024, time.December, 30),
		CheckOut:    day(2025, time.March, 2),
		NightlyRate: core.Money{Cents: 12345},
	}
	var nights int
	var sum int64
	for _, ym := range [][2]int{{2024, 12}, {2025, 1}, {2025, 2}, {2025, 3}, {2025, 4}} {
		s, e := core.MonthBounds(ym[0], ym[1])
		n, m := MonthShare(b, s, e)
		nights += n
		sum += m.Cents
	}
	if nights != b.Nights() {
		t.Fatalf("expected %d nights, got %d", b.Nights(), nights)
	}
	if sum != b.Revenue().Cents {
		t.Fatalf("expected %d cents, got %d", b.Revenue().Cents, sum)
	}
}

func TestMonthShare_OutsideMonth(t *testing.T) {
	b := core.Booking{CheckIn: day(2025, time.March, 1), CheckOut: day(2025, time.March, 5), TotalAmount: core.Money{Cents: 100}}
	s, e := core.MonthBounds(2025, 2)
	if n, m := MonthShare(b, s, e); n != 0 || m.Cents != 0 {
		t.Fatalf("expected nothing for February, got %d %s", n, m)
	}
	// Check-out on the 1st leaves no night in that month.
	b = core.Booking{CheckIn: day(2025, time.February, 27), CheckOut: day(2025, time.March, 1), TotalAmount: core.Money{Cents: 100}}
	s, e = core.MonthBounds(2025, 3)
	if n, _ := MonthShare(b, s, e); n != 0 {
		t.Fatalf("expected no March nights, got %d", n)
	}
}

type fixture struct {
	mem   *memory.Store
	store *monthend.Store
	calc  *Calculator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := memory.New()
	mem.PutProperty(core.Property{
		ID: "lakeview", Name: "Lakeview", OwnershipPercentage: decimal.NewFromInt(80),
		OwnerEmail: "owner@lakeview.test", Active: true,
	})
	store := monthend.NewStore(mem, mem, inventory.NewChecker(mem, nil), nil)
	return fixture{mem: mem, store: store, calc: NewCalculator(mem, mem, mem, store)}
}

func TestCalculate_RevenueCostsAndOwnerSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, inv := range []core.Invoice{
		{PropertyID: "lakeview", Kind: core.InvoiceCleaning, Year: 2025, Month: 1, Amount: core.Money{Cents: 5000}},
		{PropertyID: "lakeview", Kind: core.InvoiceMaintenance, Year: 2025, Month: 1, Amount: core.Money{Cents: 7000}},
		{PropertyID: "lakeview", Kind: core.InvoiceInventory, Year: 2025, Month: 1, Amount: core.Money{Cents: 3000}},
		{PropertyID: "lakeview", Kind: core.InvoiceRestock, Year: 2025, Month: 2, Amount: core.Money{Cents: 9999}},
	} {
		if _, err := f.mem.RecordInvoice(ctx, inv); err != nil {
			t.Fatalf("record invoice: %v", err)
		}
	}

	res, err := f.calc.Calculate(ctx, CalculateRequest{
		PropertyID: "lakeview",
		Year:       2025,
		Month:      "January",
		DryRun:     true,
		Bookings: []core.Booking{
			{PropertyID: "lakeview", CheckIn: day(2025, time.January, 10), CheckOut: day(2025, time.January, 13),
				NightlyRate: core.Money{Cents: 10000}, CleaningFee: core.Money{Cents: 2500}},
			{PropertyID: "lakeview", CheckIn: day(2025, time.January, 28), CheckOut: day(2025, time.February, 3),
				TotalAmount: core.Money{Cents: 60000}, CleaningFee: core.Money{Cents: 2500}},
			{PropertyID: "harbor", CheckIn: day(2025, time.January, 5), CheckOut: day(2025, time.January, 8),
				TotalAmount: core.Money{Cents: 99900}},
			{PropertyID: "lakeview", CheckIn: day(2025, time.March, 1), CheckOut: day(2025, time.March, 4),
				TotalAmount: core.Money{Cents: 30000}},
		},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if res.MonthNumber != 1 || res.Month != "January" || res.PropertyName != "Lakeview" {
		t.Fatalf("unexpected header %+v", res)
	}
	if res.BookingCount != 2 || res.Nights != 7 {
		t.Fatalf("expected 2 bookings / 7 nights, got %d / %d", res.BookingCount, res.Nights)
	}
	// 3 x 100.00 + 4/6 of 600.00
	if res.TotalRevenue.Cents != 70000 {
		t.Fatalf("expected revenue 700.00, got %s", res.TotalRevenue)
	}
	// first stay's fee plus the cleaning invoice; the second stay ends in February
	if res.TotalCleaning.Cents != 7500 {
		t.Fatalf("expected cleaning 75.00, got %s", res.TotalCleaning)
	}
	if res.Expenses.Cents != 10000 {
		t.Fatalf("expected expenses 100.00, got %s", res.Expenses)
	}
	if res.NetAmount.Cents != 52500 {
		t.Fatalf("expected net 525.00, got %s", res.NetAmount)
	}
	if res.OwnerProfit.Cents != 42000 {
		t.Fatalf("expected owner profit 420.00, got %s", res.OwnerProfit)
	}
	if res.Status != StatusCalculated || res.MonthEndStatus != core.StatusDraft {
		t.Fatalf("unexpected statuses %q %q", res.Status, res.MonthEndStatus)
	}

	if _, err := f.mem.GetStatus(ctx, core.PropertyMonth{PropertyID: "lakeview", Year: 2025, Month: 1}); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("dry run must not persist a status, got %v", err)
	}
}

func TestCalculate_NoBookings(t *testing.T) {
	f := newFixture(t)

	res, err := f.calc.Calculate(context.Background(), CalculateRequest{
		PropertyID: "lakeview", Year: 2025, MonthNumber: 3, Bookings: []core.Booking{}, DryRun: true,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.Status != StatusNoBookings || res.TotalRevenue.Cents != 0 || res.BookingCount != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestCalculate_PersistsDraftWithoutDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := core.PropertyMonth{PropertyID: "lakeview", Year: 2025, Month: 3}

	res, err := f.calc.CalculateFromStore(ctx, key, false)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.MonthEndStatus != core.StatusDraft {
		t.Fatalf("expected draft, got %s", res.MonthEndStatus)
	}
	if _, err := f.mem.GetStatus(ctx, key); err != nil {
		t.Fatalf("expected draft persisted, got %v", err)
	}

	if _, err := f.store.SetStatus(ctx, monthend.SetStatusRequest{PropertyID: "lakeview", Year: 2025, MonthNumber: 3, Status: core.StatusReady}); err != nil {
		t.Fatalf("set ready: %v", err)
	}
	res, err = f.calc.CalculateFromStore(ctx, key, false)
	if err != nil || res.MonthEndStatus != core.StatusReady {
		t.Fatalf("expected ready kept, got %s %v", res.MonthEndStatus, err)
	}
}

func TestCalculate_LoadsBookingsFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.mem.AddBooking(ctx, core.Booking{
		PropertyID: "lakeview", CheckIn: day(2025, time.January, 28), CheckOut: day(2025, time.February, 3),
		TotalAmount: core.Money{Cents: 60000},
	}); err != nil {
		t.Fatalf("add booking: %v", err)
	}

	feb, err := f.calc.CalculateFromStore(ctx, core.PropertyMonth{PropertyID: "lakeview", Year: 2025, Month: 2}, true)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if feb.Nights != 2 || feb.TotalRevenue.Cents != 20000 {
		t.Fatalf("expected 2 nights / 200.00 in February, got %d / %s", feb.Nights, feb.TotalRevenue)
	}
}

func TestCalculate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.calc.Calculate(ctx, CalculateRequest{PropertyID: "ghost", Year: 2025, MonthNumber: 3}); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.calc.Calculate(ctx, CalculateRequest{PropertyID: "lakeview", Year: 2025, Month: "Smarch"}); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseMonth(t *testing.T) {
	tests := map[string]int{"3": 3, "March": 3, "mar": 3, " december ": 12, "Sep": 9}
	for in, want := range tests {
		got, err := ParseMonth(in)
		if err != nil || got != want {
			t.Errorf("ParseMonth(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "13", "0", "ju"} {
		if _, err := ParseMonth(in); err == nil {
			t.Errorf("ParseMonth(%q) expected error", in)
		}
	}
}
