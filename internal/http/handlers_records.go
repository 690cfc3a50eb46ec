package http

import (
	"net/http"

	"backoffice/internal/core"
)

// handleRecordInvoice stores an invoice. Inventory invoices refresh the
// readiness of their property-month.
func (s *Server) handleRecordInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoicePayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.deps.Invoices.Record(r.Context(), req.toInvoice())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoiceResponse{
		ID:          inv.ID,
		PropertyID:  inv.PropertyID,
		Kind:        inv.Kind,
		Year:        inv.Year,
		Month:       inv.Month,
		Amount:      inv.Amount,
		Description: inv.Description,
	})
}

type invoiceResponse struct {
	ID          string           `json:"id"`
	PropertyID  string           `json:"propertyId"`
	Kind        core.InvoiceKind `json:"kind"`
	Year        int              `json:"year"`
	Month       int              `json:"month"`
	Amount      core.Money       `json:"amount"`
	Description string           `json:"description,omitempty"`
}

func (s *Server) handleAddBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := req.toBooking()
	if err != nil {
		writeError(w, r, core.E(core.KindValidation, "http.add_booking", err))
		return
	}
	if err := b.Validate(); err != nil {
		writeError(w, r, core.E(core.KindValidation, "http.add_booking", err))
		return
	}
	saved, err := s.deps.Bookings.AddBooking(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
