package monthend

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"backoffice/internal/core"
	"backoffice/internal/inventory"
)

// BatchStatusRequest moves many properties of one month to Status. When
// FromStatus is set only properties currently in it are touched, and an empty
// PropertyIDs targets every property in FromStatus. Source defaults to batch.
type BatchStatusRequest struct {
	PropertyIDs []string    `json:"propertyIds"`
	Year        int         `json:"year"`
	MonthNumber int         `json:"month"`
	Status      core.Status `json:"status"`
	FromStatus  core.Status `json:"fromStatus,omitempty"`
	Source      core.Source `json:"-"`
}

type ItemResult struct {
	PropertyID string `json:"propertyId"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult has one entry per targeted property, in request order.
type BatchResult struct {
	Results []ItemResult        `json:"results"`
	Counts  map[core.Status]int `json:"counts"`
}

// Tally counts succeeded, failed and skipped items.
func (r BatchResult) Tally() (succeeded, failed, skipped int) {
	for _, it := range r.Results {
		switch {
		case it.Skipped:
			skipped++
		case it.Success:
			succeeded++
		default:
			failed++
		}
	}
	return
}

func (r BatchResult) Summary() string {
	ok, failed, skipped := r.Tally()
	return fmt.Sprintf("Batch status update complete: %d updated, %d failed, %d skipped", ok, failed, skipped)
}

// BatchSetStatus applies the transition to each property independently. An
// item failure, including a panic, becomes an error entry; only an invalid
// request returns an error.
func (s *Store) BatchSetStatus(ctx context.Context, req BatchStatusRequest) (BatchResult, error) {
	const op = "monthend.batch_set_status"

	if err := core.ValidateYearMonth(req.Year, req.MonthNumber); err != nil {
		return BatchResult{}, core.E(core.KindValidation, op, err)
	}
	if !req.Status.Valid() {
		return BatchResult{}, core.E(core.KindValidation, op, fmt.Errorf("%w: %q", core.ErrInvalidStatus, req.Status))
	}
	if req.FromStatus != "" && !req.FromStatus.Valid() {
		return BatchResult{}, core.E(core.KindValidation, op, fmt.Errorf("%w: %q", core.ErrInvalidStatus, req.FromStatus))
	}
	if req.Source == "" {
		req.Source = core.SourceBatch
	}

	current, err := s.GetStatuses(ctx, req.Year, req.MonthNumber)
	if err != nil {
		return BatchResult{}, err
	}
	view := NewView(current)

	ids := req.PropertyIDs
	if len(ids) == 0 && req.FromStatus != "" {
		for _, st := range current {
			if st.Status == req.FromStatus {
				ids = append(ids, st.PropertyID)
			}
		}
	}

	results := make([]ItemResult, len(ids))
	var work []int
	for i, id := range ids {
		results[i].PropertyID = id
		if req.FromStatus != "" && view.Status(id) != req.FromStatus {
			results[i].Skipped = true
			results[i].Error = fmt.Sprintf("status is %s, not %s", view.Status(id), req.FromStatus)
			continue
		}
		work = append(work, i)
	}

	var readiness map[string]inventory.Readiness
	if req.Status == core.StatusComplete && len(work) > 0 {
		pending := make([]string, 0, len(work))
		for _, i := range work {
			pending = append(pending, ids[i])
		}
		readiness = s.readiness.BatchCheck(ctx, pending, req.Year, req.MonthNumber)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.Parallelism > 0 {
		g.SetLimit(s.Parallelism)
	}
	for _, i := range work {
		i := i
		g.Go(func() error {
			results[i] = s.applyItem(gctx, view, req, ids[i], readiness)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Results: results, Counts: view.Counts()}
	ok, failed, skipped := res.Tally()
	slog.InfoContext(ctx, res.Summary(),
		"year", req.Year,
		"month", req.MonthNumber,
		"status", string(req.Status),
		"source", string(req.Source),
		"updated", ok,
		"failed", failed,
		"skipped", skipped)
	return res, nil
}

func (s *Store) applyItem(ctx context.Context, view *View, req BatchStatusRequest, id string, readiness map[string]inventory.Readiness) (res ItemResult) {
	res.PropertyID = id
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic in batch status item", "property_id", id, "panic", r)
			res = ItemResult{PropertyID: id, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if readiness != nil {
		r := readiness[id]
		if r.State != inventory.StateReady {
			reason := r.Reason
			if reason == "" {
				reason = "inventory not ready"
			}
			res.Error = reason
			return res
		}
	}

	err := view.Tentative(ctx, id, req.Status, func(ctx context.Context) error {
		_, err := s.SetStatus(ctx, SetStatusRequest{
			PropertyID:     id,
			Year:           req.Year,
			MonthNumber:    req.MonthNumber,
			Status:         req.Status,
			SkipValidation: true,
			Source:         req.Source,
		})
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "Batch status item failed", "property_id", id, "error", err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
