// Package monthend holds the draft/ready/complete status of every
// property-month and applies single and batch transitions.
package monthend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/inventory"
	"backoffice/internal/lock"
	"backoffice/internal/ports"
)

const casAttempts = 3

// ReadinessChecker is the part of inventory.Checker the store relies on.
type ReadinessChecker interface {
	IsReady(ctx context.Context, propertyID string, year, month int) inventory.Readiness
	BatchCheck(ctx context.Context, propertyIDs []string, year, month int) map[string]inventory.Readiness
	RequireReady(ctx context.Context, propertyIDs []string, year, month int) error
}

var _ ReadinessChecker = (*inventory.Checker)(nil)

// SetStatusRequest describes one transition. Source defaults to manual and is
// never taken from a request body.
type SetStatusRequest struct {
	PropertyID     string      `json:"propertyId"`
	Year           int         `json:"year"`
	MonthNumber    int         `json:"monthNumber"`
	Status         core.Status `json:"status"`
	SkipValidation bool        `json:"skipValidation"`
	Source         core.Source `json:"-"`
}

func (r SetStatusRequest) key() core.PropertyMonth {
	return core.PropertyMonth{PropertyID: r.PropertyID, Year: r.Year, Month: r.MonthNumber}
}

// Store applies transitions on top of a StatusRepository. Writes to one
// property-month are serialised by the locker and committed with a
// compare-and-set on the row version.
type Store struct {
	repo      ports.StatusRepository
	props     ports.PropertyReader
	readiness ReadinessChecker
	locker    lock.Locker
	now       func() time.Time

	// Parallelism caps concurrent writes inside BatchSetStatus.
	Parallelism int
}

func NewStore(repo ports.StatusRepository, props ports.PropertyReader, readiness ReadinessChecker, locker lock.Locker) *Store {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Store{
		repo:        repo,
		props:       props,
		readiness:   readiness,
		locker:      locker,
		now:         time.Now,
		Parallelism: 4,
	}
}

// GetStatuses lists every active property with its status for the month,
// defaulting properties without a record to draft.
func (s *Store) GetStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error) {
	if err := core.ValidateYearMonth(year, month); err != nil {
		return nil, core.E(core.KindValidation, "monthend.get_statuses", err)
	}
	props, err := s.props.ListProperties(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	stored, err := s.repo.ListStatuses(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	byID := make(map[string]core.MonthEndStatus, len(stored))
	for _, st := range stored {
		byID[st.PropertyID] = st
	}

	out := make([]core.MonthEndStatus, 0, len(props))
	for _, p := range props {
		st, ok := byID[p.ID]
		if !ok {
			st = core.NewDraftStatus(core.PropertyMonth{PropertyID: p.ID, Year: year, Month: month})
		}
		st.PropertyName = p.Name
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PropertyName < out[j].PropertyName })
	return out, nil
}

// Get returns the stored status or an unsaved draft.
func (s *Store) Get(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error) {
	if err := key.Validate(); err != nil {
		return core.MonthEndStatus{}, core.E(core.KindValidation, "monthend.get", err)
	}
	st, err := s.repo.GetStatus(ctx, key)
	if core.IsKind(err, core.KindNotFound) {
		return core.NewDraftStatus(key), nil
	}
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

// RequireReady fails with a validation error wrapping *inventory.BlockedError
// unless every id has its inventory invoice for the month.
func (s *Store) RequireReady(ctx context.Context, propertyIDs []string, year, month int) error {
	return s.readiness.RequireReady(ctx, propertyIDs, year, month)
}

// Ensure persists a draft record for key when none exists. Existing records
// are returned untouched.
func (s *Store) Ensure(ctx context.Context, key core.PropertyMonth) (core.MonthEndStatus, error) {
	st, err := s.Get(ctx, key)
	if err != nil || st.Version > 0 {
		return st, err
	}
	st.LastUpdated = s.now().UTC()
	saved, err := s.repo.CompareAndSetStatus(ctx, st, 0)
	if core.IsKind(err, core.KindConflict) {
		// Someone else created it first.
		return s.Get(ctx, key)
	}
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("create status: %w", err)
	}
	return saved, nil
}

// SetStatus applies one transition. Moving to complete checks inventory
// readiness unless SkipValidation is set.
func (s *Store) SetStatus(ctx context.Context, req SetStatusRequest) (core.MonthEndStatus, error) {
	const op = "monthend.set_status"

	key := req.key()
	if err := key.Validate(); err != nil {
		return core.MonthEndStatus{}, core.E(core.KindValidation, op, err)
	}
	if !req.Status.Valid() {
		return core.MonthEndStatus{}, core.E(core.KindValidation, op, fmt.Errorf("%w: %q", core.ErrInvalidStatus, req.Status))
	}
	if req.Source == "" {
		req.Source = core.SourceManual
	}
	if !req.Source.Valid() {
		return core.MonthEndStatus{}, core.Errorf(core.KindValidation, op, "invalid source %q", req.Source)
	}
	if _, err := s.props.GetProperty(ctx, req.PropertyID); err != nil {
		return core.MonthEndStatus{}, err
	}

	if req.Status == core.StatusComplete && !req.SkipValidation {
		r := s.readiness.IsReady(ctx, req.PropertyID, req.Year, req.MonthNumber)
		switch r.State {
		case inventory.StateReady:
		case inventory.StateMissing:
			return core.MonthEndStatus{}, core.Errorf(core.KindValidation, op, "cannot complete %s: %s", key, r.Reason)
		default:
			return core.MonthEndStatus{}, core.Errorf(core.KindTransport, op, "cannot complete %s: inventory check failed: %s", key, r.Reason)
		}
	}

	release, err := s.locker.Acquire(ctx, "status:"+key.Key())
	if err != nil {
		return core.MonthEndStatus{}, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= casAttempts; attempt++ {
		cur, err := s.Get(ctx, key)
		if err != nil {
			return core.MonthEndStatus{}, err
		}
		if err := CheckTransition(cur.Status, req.Status, req.Source); err != nil {
			return cur, err
		}
		if cur.Status == req.Status && cur.Version > 0 {
			return cur, nil
		}

		next := cur
		next.Status = req.Status
		next.LastUpdated = s.now().UTC()
		next.PropertyName = ""
		saved, err := s.repo.CompareAndSetStatus(ctx, next, cur.Version)
		if err == nil {
			slog.InfoContext(ctx, "Month-end status updated",
				"property_id", key.PropertyID,
				"year", key.Year,
				"month", key.Month,
				"from", string(cur.Status),
				"to", string(req.Status),
				"source", string(req.Source),
				"version", saved.Version)
			return saved, nil
		}
		if !core.IsKind(err, core.KindConflict) {
			return core.MonthEndStatus{}, fmt.Errorf("save status: %w", err)
		}
		lastErr = err
		slog.DebugContext(ctx, "Month-end status write raced, re-reading",
			"property_id", key.PropertyID, "attempt", attempt)
	}
	return core.MonthEndStatus{}, fmt.Errorf("save status after %d attempts: %w", casAttempts, lastErr)
}

// MarkOwnerEmailSent records that the owner statement for key went out.
func (s *Store) MarkOwnerEmailSent(ctx context.Context, key core.PropertyMonth) error {
	release, err := s.locker.Acquire(ctx, "status:"+key.Key())
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	if _, err := s.Ensure(ctx, key); err != nil {
		return err
	}
	if err := s.repo.SetOwnerEmailSent(ctx, key, true); err != nil {
		return fmt.Errorf("mark owner email sent: %w", err)
	}
	return nil
}
