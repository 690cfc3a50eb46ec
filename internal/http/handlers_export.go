package http

import (
	"net/http"

	"backoffice/internal/core"
	applog "backoffice/internal/log"
)

// handleExport writes the month-end tab and completes ready properties.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	year, month, err := parseYearMonth(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Exporter.ExportMonthEnd(r.Context(), year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), res.Summary(),
		applog.NewFields().
			WithOperation(applog.OpExport).
			WithBatch(res.Exported, res.Completed, res.Failed).
			ToSlice()...)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        res.URL,
		"sheetTitle": res.SheetTitle,
		"exported":   res.Exported,
		"completed":  res.Completed,
		"failed":     res.Failed,
		"results":    res.Results,
		"message":    res.Summary(),
	})
}

type ownerEmailRequest struct {
	PropertyID  string `json:"propertyId"`
	Year        int    `json:"year"`
	MonthNumber int    `json:"monthNumber"`
}

// handleOwnerEmail archives and mails the owner statement. A month already
// notified answers 409.
func (s *Server) handleOwnerEmail(w http.ResponseWriter, r *http.Request) {
	var req ownerEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key := core.PropertyMonth{PropertyID: sanitizeInput(req.PropertyID), Year: req.Year, Month: req.MonthNumber}
	if err := key.Validate(); err != nil {
		writeError(w, r, core.E(core.KindValidation, "http.owner_email", err))
		return
	}

	res, err := s.deps.Exporter.NotifyOwner(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
