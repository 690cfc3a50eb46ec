package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
	"backoffice/internal/export"
	"backoffice/internal/inventory"
	"backoffice/internal/memory"
	"backoffice/internal/monthend"
	"backoffice/internal/reconcile"
)

type testServer struct {
	srv     *Server
	mem     *memory.Store
	store   *monthend.Store
	sheets  *memory.Spreadsheet
	mailbox *memory.Mailbox
}

func newTestServer(t *testing.T, ids ...string) *testServer {
	t.Helper()
	mem := memory.New()
	for _, id := range ids {
		mem.PutProperty(core.Property{
			ID:                  id,
			Name:                strings.ToUpper(id[:1]) + id[1:],
			OwnershipPercentage: decimal.NewFromInt(80),
			OwnerEmail:          id + "@owners.test",
			Active:              true,
		})
	}
	checker := inventory.NewChecker(mem, nil)
	store := monthend.NewStore(mem, mem, checker, nil)
	calc := reconcile.NewCalculator(mem, mem, mem, store)
	sheets := memory.NewSpreadsheet("book")
	mailbox := &memory.Mailbox{}
	ex := export.New(mem, calc, store, sheets, export.Options{Mailer: mailbox, From: "office@backoffice.test"})

	srv := NewServer(":0", Deps{
		Statuses:           store,
		Readiness:          checker,
		Calculator:         calc,
		Exporter:           ex,
		Invoices:           inventory.NewRecorder(mem, checker),
		Bookings:           mem,
		Ready:              func(context.Context) error { return nil },
		RateLimitPerMinute: 1000,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, mem: mem, store: store, sheets: sheets, mailbox: mailbox}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/stats/limiter"} {
		rr := ts.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing request id header", path)
		}
		if rr.Header().Get("Content-Security-Policy") != "default-src 'none'; frame-ancestors 'none'" {
			t.Errorf("%s missing API CSP", path)
		}
	}

	ts.srv.deps.Ready = func(context.Context) error { return errors.New("db down") }
	if rr := ts.do(t, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing probe = %d", rr.Code)
	}
}

func TestWrongMethod(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/property-month-end/status", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestStatusesEnrichedWithBookings(t *testing.T) {
	ts := newTestServer(t, "lakeview", "harbor")

	rr := ts.do(t, http.MethodPost, "/bookings",
		`{"propertyId":"lakeview","guestName":"Ada","checkIn":"2024-03-10","checkOut":"2024-03-12","totalAmount":250}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add booking status=%d body=%s", rr.Code, rr.Body)
	}

	rr = ts.do(t, http.MethodGet, "/property-month-end/statuses?year=2024&month=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("statuses status=%d body=%s", rr.Code, rr.Body)
	}
	got := decode[statusesResponse](t, rr)
	if len(got.Properties) != 2 {
		t.Fatalf("got %d properties", len(got.Properties))
	}
	byID := map[string]propertyStatus{}
	for _, p := range got.Properties {
		byID[p.PropertyID] = p
	}
	lv := byID["lakeview"]
	if lv.Status != core.StatusDraft || lv.BookingCount != 1 || lv.Revenue.Cents != 25000 {
		t.Errorf("lakeview = %+v", lv)
	}
	if got.Counts[core.StatusDraft] != 2 || got.Counts[core.StatusReady] != 0 {
		t.Errorf("counts = %v", got.Counts)
	}
}

func TestStatusesRejectsBadMonth(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	for _, q := range []string{"", "?year=2024", "?year=2024&month=13", "?year=abc&month=3"} {
		rr := ts.do(t, http.MethodGet, "/property-month-end/statuses"+q, "")
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%q status=%d, want 422", q, rr.Code)
		}
	}
	if rr := ts.do(t, http.MethodGet, "/property-month-end/statuses?year=2024&month=March", ""); rr.Code != http.StatusOK {
		t.Errorf("month name status=%d", rr.Code)
	}
}

func TestSetStatus(t *testing.T) {
	ts := newTestServer(t, "lakeview")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"draft to ready", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"Ready"}`, http.StatusOK},
		{"complete without inventory refused", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"complete"}`, http.StatusUnprocessableEntity},
		{"body source ignored", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"complete","source":"report"}`, http.StatusUnprocessableEntity},
		{"unknown property", `{"propertyId":"nowhere","year":2024,"monthNumber":3,"status":"ready"}`, http.StatusNotFound},
		{"bad status", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"done"}`, http.StatusUnprocessableEntity},
		{"malformed body", `{"propertyId":`, http.StatusUnprocessableEntity},
		{"empty body", ``, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPut, "/property-month-end/status", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body)
			}
			if tt.want != http.StatusOK {
				if e := decode[errorResponse](t, rr); e.Error == "" {
					t.Error("error body missing message")
				}
			}
		})
	}

	st, err := ts.store.Get(context.Background(), core.PropertyMonth{PropertyID: "lakeview", Year: 2024, Month: 3})
	if err != nil || st.Status != core.StatusReady {
		t.Errorf("stored status = %v, %v", st.Status, err)
	}
}

func TestSetStatusSkipValidationCompletes(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	ts.do(t, http.MethodPut, "/property-month-end/status", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"ready"}`)

	rr := ts.do(t, http.MethodPut, "/property-month-end/status",
		`{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"complete","skipValidation":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	st, err := ts.store.Get(context.Background(), core.PropertyMonth{PropertyID: "lakeview", Year: 2024, Month: 3})
	if err != nil || st.Status != core.StatusComplete {
		t.Errorf("stored status = %v, %v", st.Status, err)
	}

	// Skipping validation does not open transitions the table forbids.
	rr = ts.do(t, http.MethodPut, "/property-month-end/status",
		`{"propertyId":"lakeview","year":2024,"monthNumber":4,"status":"complete","skipValidation":true}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("draft to complete status=%d, want 422", rr.Code)
	}
}

func TestBatchStatusMovesDraftToReady(t *testing.T) {
	ts := newTestServer(t, "lakeview", "harbor", "pine")

	rr := ts.do(t, http.MethodPost, "/property-month-end/status/batch",
		`{"propertyIds":[],"year":2024,"month":3,"status":"ready","fromStatus":"draft"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	res := decode[monthend.BatchResult](t, rr)
	if len(res.Results) != 3 {
		t.Fatalf("results = %+v", res.Results)
	}
	for _, it := range res.Results {
		if !it.Success {
			t.Errorf("%s failed: %s", it.PropertyID, it.Error)
		}
	}
	if res.Counts[core.StatusReady] != 3 || res.Counts[core.StatusDraft] != 0 {
		t.Errorf("counts = %v", res.Counts)
	}
}

func TestOptionsFollowInventoryInvoices(t *testing.T) {
	ts := newTestServer(t, "lakeview", "harbor")

	rr := ts.do(t, http.MethodGet, "/property-month-end/options?propertyId=lakeview&year=2024&monthNumber=3", "")
	if got := decode[inventory.Readiness](t, rr); got.Ready || got.State != inventory.StateMissing || got.Reason == "" {
		t.Fatalf("before invoice = %+v", got)
	}

	rr = ts.do(t, http.MethodPost, "/invoices",
		`{"propertyId":"lakeview","kind":"inventory","year":2024,"month":3,"amount":"12.50","description":"March count"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("record invoice status=%d body=%s", rr.Code, rr.Body)
	}
	if inv := decode[invoiceResponse](t, rr); inv.ID == "" || inv.Amount.Cents != 1250 {
		t.Errorf("invoice = %+v", inv)
	}

	rr = ts.do(t, http.MethodGet, "/property-month-end/options?propertyId=lakeview&year=2024&monthNumber=3", "")
	if got := decode[inventory.Readiness](t, rr); !got.Ready {
		t.Fatalf("after invoice = %+v", got)
	}

	rr = ts.do(t, http.MethodPost, "/property-month-end/options/batch",
		`{"propertyIds":["harbor","lakeview"],"year":2024,"monthNumber":3}`)
	list := decode[[]inventory.Readiness](t, rr)
	if len(list) != 2 || list[0].PropertyID != "harbor" || list[0].Ready || !list[1].Ready {
		t.Errorf("batch = %+v", list)
	}

	if rr := ts.do(t, http.MethodGet, "/property-month-end/options?year=2024&monthNumber=3", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing property id status=%d", rr.Code)
	}
}

func TestRecordInvoiceValidation(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	rr := ts.do(t, http.MethodPost, "/invoices", `{"propertyId":"lakeview","kind":"party","year":2024,"month":3,"amount":5}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad kind status=%d", rr.Code)
	}
}

func TestAddBookingValidation(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	for _, body := range []string{
		`{"propertyId":"lakeview","checkIn":"2024-03-12","checkOut":"2024-03-10"}`,
		`{"propertyId":"lakeview","checkIn":"12/03/2024","checkOut":"2024-03-14"}`,
		`{"checkIn":"2024-03-10","checkOut":"2024-03-12"}`,
	} {
		if rr := ts.do(t, http.MethodPost, "/bookings", body); rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s status=%d", body, rr.Code)
		}
	}
}

func TestCalculateSplitsAcrossMonths(t *testing.T) {
	ts := newTestServer(t, "lakeview")

	body := `{"propertyId":"lakeview","year":2024,"month":"February","dryRun":true,
		"bookings":[{"propertyId":"lakeview","checkIn":"2024-01-28","checkOut":"2024-02-03","totalAmount":600}]}`
	rr := ts.do(t, http.MethodPost, "/property-month-end/calculate", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	res := decode[reconcile.Result](t, rr)
	if res.MonthNumber != 2 || res.Nights != 2 || res.TotalRevenue.Cents != 20000 {
		t.Errorf("result = %+v", res)
	}
	if res.OwnerProfit.Cents != 16000 {
		t.Errorf("owner profit = %s", res.OwnerProfit)
	}

	// Dry runs never create a status row.
	if _, err := ts.mem.GetStatus(context.Background(), core.PropertyMonth{PropertyID: "lakeview", Year: 2024, Month: 2}); !core.IsKind(err, core.KindNotFound) {
		t.Errorf("dry run persisted a status: %v", err)
	}
}

func TestExportCompletesReadyProperties(t *testing.T) {
	ts := newTestServer(t, "lakeview", "harbor", "pine")
	ctx := context.Background()
	for _, id := range []string{"lakeview", "harbor", "pine"} {
		if _, err := ts.mem.RecordInvoice(ctx, core.Invoice{PropertyID: id, Kind: core.InvoiceInventory, Year: 2024, Month: 3, Amount: core.Money{Cents: 100}}); err != nil {
			t.Fatal(err)
		}
		ts.do(t, http.MethodPut, "/property-month-end/status",
			fmt.Sprintf(`{"propertyId":%q,"year":2024,"monthNumber":3,"status":"ready"}`, id))
	}

	rr := ts.do(t, http.MethodPost, "/sheets/export-month-end?year=2024&month=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	var got struct {
		URL       string `json:"url"`
		Completed int    `json:"completed"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got.URL, "memory://spreadsheets/book#gid=") || got.Completed != 3 {
		t.Errorf("export = %+v", got)
	}
	if got.Message != "Month-end export complete: 3 exported, 3 completed, 0 failed" {
		t.Errorf("message = %q", got.Message)
	}

	rr = ts.do(t, http.MethodGet, "/property-month-end/statuses?year=2024&month=3", "")
	if counts := decode[statusesResponse](t, rr).Counts; counts[core.StatusComplete] != 3 {
		t.Errorf("counts after export = %v", counts)
	}
}

func TestExportBlockedByMissingInventory(t *testing.T) {
	ts := newTestServer(t, "lakeview", "harbor")
	ctx := context.Background()
	if _, err := ts.mem.RecordInvoice(ctx, core.Invoice{PropertyID: "lakeview", Kind: core.InvoiceInventory, Year: 2024, Month: 3, Amount: core.Money{Cents: 100}}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"lakeview", "harbor"} {
		ts.do(t, http.MethodPut, "/property-month-end/status",
			fmt.Sprintf(`{"propertyId":%q,"year":2024,"monthNumber":3,"status":"ready"}`, id))
	}

	rr := ts.do(t, http.MethodPost, "/sheets/export-month-end?year=2024&month=3", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	if got := decode[errorResponse](t, rr); len(got.Missing) != 1 || got.Missing[0] != "harbor" {
		t.Errorf("missing = %v, want [harbor]", got.Missing)
	}
	if n := len(ts.sheets.Sheets()); n != 0 {
		t.Errorf("sheet written despite block: %d tabs", n)
	}

	rr = ts.do(t, http.MethodGet, "/property-month-end/statuses?year=2024&month=3", "")
	if counts := decode[statusesResponse](t, rr).Counts; counts[core.StatusReady] != 2 || counts[core.StatusComplete] != 0 {
		t.Errorf("counts after blocked export = %v", counts)
	}
}

func TestExportTransportFailureIs502(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	ts.sheets.FailWrites = core.Errorf(core.KindTransport, "sheets.write", "backend unavailable")

	rr := ts.do(t, http.MethodPost, "/sheets/export-month-end?year=2024&month=3", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
}

func TestOwnerEmail(t *testing.T) {
	ts := newTestServer(t, "lakeview")
	body := `{"propertyId":"lakeview","year":2024,"monthNumber":3}`

	rr := ts.do(t, http.MethodPost, "/property-month-end/owner-email", body)
	if got := decode[export.SendResult](t, rr); got.Sent || got.Reason != export.ReasonNotReady {
		t.Fatalf("draft month = %+v", got)
	}

	ts.do(t, http.MethodPut, "/property-month-end/status", `{"propertyId":"lakeview","year":2024,"monthNumber":3,"status":"ready"}`)
	rr = ts.do(t, http.MethodPost, "/property-month-end/owner-email", body)
	if got := decode[export.SendResult](t, rr); !got.Sent {
		t.Fatalf("ready month = %+v", got)
	}
	if n := len(ts.mailbox.Sent()); n != 1 {
		t.Fatalf("sent %d emails", n)
	}

	rr = ts.do(t, http.MethodPost, "/property-month-end/owner-email", body)
	if rr.Code != http.StatusConflict {
		t.Errorf("second send status=%d, want 409", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.Errorf(core.KindValidation, "op", "x"), http.StatusUnprocessableEntity},
		{core.Errorf(core.KindNotFound, "op", "x"), http.StatusNotFound},
		{core.Errorf(core.KindRateLimited, "op", "x"), http.StatusTooManyRequests},
		{core.Errorf(core.KindTransport, "op", "x"), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", core.Errorf(core.KindConflict, "op", "x")), http.StatusConflict},
		{&inventory.BlockedError{Year: 2024, Month: 3, Missing: []string{"a"}}, http.StatusUnprocessableEntity},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rr, req, errors.New("sqlite: disk I/O error at /var/db"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if e := decode[errorResponse](t, rr); e.Error != "internal error" {
		t.Errorf("leaked error %q", e.Error)
	}
}

func TestInboundRateLimit(t *testing.T) {
	srv := NewServer(":0", Deps{RateLimitPerMinute: 2})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		srv.Handler.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Errorf("third request status=%d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
