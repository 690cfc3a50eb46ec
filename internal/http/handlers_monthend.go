package http

import (
	"net/http"
	"strings"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/inventory"
	applog "backoffice/internal/log"
	"backoffice/internal/monthend"
	"backoffice/internal/reconcile"
)

type propertyStatus struct {
	PropertyID     string      `json:"propertyId"`
	Name           string      `json:"name"`
	Status         core.Status `json:"status"`
	Version        int64       `json:"version"`
	OwnerEmailSent bool        `json:"ownerEmailSent"`
	BookingCount   int         `json:"bookingCount"`
	Revenue        core.Money  `json:"revenue"`
	LastUpdated    *time.Time  `json:"lastUpdated,omitempty"`
	// CalculationError is set when the booking figures could not be computed.
	CalculationError string `json:"calculationError,omitempty"`
}

type statusesResponse struct {
	Year       int                 `json:"year"`
	Month      int                 `json:"month"`
	Properties []propertyStatus    `json:"properties"`
	Counts     map[core.Status]int `json:"counts"`
}

// handleStatuses lists every active property with its status and a dry-run
// booking summary for the month.
func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, month, err := parseYearMonth(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sts, err := s.deps.Statuses.GetStatuses(ctx, year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]propertyStatus, 0, len(sts))
	for _, st := range sts {
		ps := propertyStatus{
			PropertyID:     st.PropertyID,
			Name:           st.PropertyName,
			Status:         st.Status,
			Version:        st.Version,
			OwnerEmailSent: st.OwnerEmailSent,
		}
		if !st.LastUpdated.IsZero() {
			t := st.LastUpdated
			ps.LastUpdated = &t
		}
		res, err := s.deps.Calculator.CalculateFromStore(ctx, st.Key(), true)
		if err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Status summary calculation failed",
				applog.NewFields().WithPropertyMonth(st.Key()).WithError(err).ToSlice()...)
			ps.CalculationError = err.Error()
		} else {
			ps.BookingCount = res.BookingCount
			ps.Revenue = res.TotalRevenue
		}
		out = append(out, ps)
	}

	writeJSON(w, http.StatusOK, statusesResponse{
		Year:       year,
		Month:      month,
		Properties: out,
		Counts:     monthend.NewView(sts).Counts(),
	})
}

// handleSetStatus applies a manual transition. Completing with
// skipValidation set is the report path: the caller vouches for inventory
// readiness and the report source is used.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req monthend.SetStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.PropertyID = sanitizeInput(req.PropertyID)
	req.Status = core.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	req.Source = core.SourceManual
	if req.Status == core.StatusComplete && req.SkipValidation {
		req.Source = core.SourceReport
	}

	st, err := s.deps.Statuses.SetStatus(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": st})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	var req monthend.BatchStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	for i, id := range req.PropertyIDs {
		req.PropertyIDs[i] = sanitizeInput(id)
	}
	req.Status = core.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	req.FromStatus = core.Status(strings.ToLower(strings.TrimSpace(string(req.FromStatus))))
	if req.Source == "" {
		req.Source = core.SourceBatch
	}

	res, err := s.deps.Statuses.BatchSetStatus(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleOptions reports whether one property-month may be completed.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := sanitizeInput(q.Get("propertyId"))
	if id == "" {
		writeError(w, r, core.E(core.KindValidation, "http.options", core.ErrEmptyPropertyID))
		return
	}
	year, month, err := parseYearMonth(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Readiness.IsReady(r.Context(), id, year, month))
}

type optionsBatchRequest struct {
	PropertyIDs []string `json:"propertyIds"`
	Year        int      `json:"year"`
	MonthNumber int      `json:"monthNumber"`
	Month       int      `json:"month"`
}

// handleOptionsBatch answers readiness for many properties, in request order.
func (s *Server) handleOptionsBatch(w http.ResponseWriter, r *http.Request) {
	var req optionsBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	month := req.MonthNumber
	if month == 0 {
		month = req.Month
	}
	if err := core.ValidateYearMonth(req.Year, month); err != nil {
		writeError(w, r, core.E(core.KindValidation, "http.options_batch", err))
		return
	}
	ids := make([]string, 0, len(req.PropertyIDs))
	for _, id := range req.PropertyIDs {
		if id = sanitizeInput(id); id != "" {
			ids = append(ids, id)
		}
	}

	got := s.deps.Readiness.BatchCheck(r.Context(), ids, req.Year, month)
	out := make([]inventory.Readiness, 0, len(ids))
	for _, id := range ids {
		out = append(out, got[id])
	}
	writeJSON(w, http.StatusOK, out)
}

type calculateRequest struct {
	PropertyID   string           `json:"propertyId"`
	PropertyName string           `json:"propertyName"`
	Year         int              `json:"year"`
	Month        string           `json:"month"`
	MonthNumber  int              `json:"monthNumber"`
	Bookings     []bookingPayload `json:"bookings"`
	DryRun       bool             `json:"dryRun"`
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bookings, err := toBookings(req.Bookings)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Calculator.Calculate(r.Context(), reconcile.CalculateRequest{
		PropertyID:   sanitizeInput(req.PropertyID),
		PropertyName: sanitizeInput(req.PropertyName),
		Year:         req.Year,
		Month:        strings.TrimSpace(req.Month),
		MonthNumber:  req.MonthNumber,
		Bookings:     bookings,
		DryRun:       req.DryRun,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
