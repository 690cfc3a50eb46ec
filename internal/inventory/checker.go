// Package inventory decides whether a property-month has the inventory
// invoice it needs before month-end can complete.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"backoffice/internal/cache"
	"backoffice/internal/core"
	"backoffice/internal/ports"
)

// State of a readiness lookup.
type State string

const (
	StateReady   State = "ready"
	StateMissing State = "missing"
	StateError   State = "error"
)

// Readiness is the answer for one property-month.
type Readiness struct {
	PropertyID string `json:"propertyId"`
	Ready      bool   `json:"inventoryReady"`
	State      State  `json:"state"`
	Reason     string `json:"message,omitempty"`
}

func ready(id string) Readiness {
	return Readiness{PropertyID: id, Ready: true, State: StateReady}
}

func missing(id string, year, month int) Readiness {
	return Readiness{
		PropertyID: id,
		State:      StateMissing,
		Reason:     fmt.Sprintf("no inventory invoice recorded for %04d-%02d", year, month),
	}
}

func failed(id string, err error) Readiness {
	return Readiness{PropertyID: id, State: StateError, Reason: err.Error()}
}

// BlockedError lists the properties that stop a batch from completing.
type BlockedError struct {
	Year    int
	Month   int
	Missing []string
	Errored map[string]string
}

func (e *BlockedError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing inventory invoice: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Errored) > 0 {
		ids := make([]string, 0, len(e.Errored))
		for id := range e.Errored {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i, id := range ids {
			ids[i] = id + " (" + e.Errored[id] + ")"
		}
		parts = append(parts, "readiness check failed: "+strings.Join(ids, ", "))
	}
	return fmt.Sprintf("month-end %04d-%02d blocked: %s", e.Year, e.Month, strings.Join(parts, "; "))
}

// Checker answers readiness questions, memoising ready/missing answers until
// Invalidate is called. Lookup errors are never cached, and a lookup that
// overlaps an Invalidate of its key does not populate the cache.
type Checker struct {
	lookup ports.InventoryLookup
	cache  cache.Cache[bool]
	group  singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

// NewChecker builds a checker over lookup. A nil c gets an unbounded,
// non-expiring cache.
func NewChecker(lookup ports.InventoryLookup, c cache.Cache[bool]) *Checker {
	if c == nil {
		c = cache.NewLRU[bool](0, 0)
	}
	return &Checker{lookup: lookup, cache: c, gen: make(map[string]uint64)}
}

func (c *Checker) generation(k string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[k]
}

// store caches ok for k unless k was invalidated since generation g was read.
func (c *Checker) store(k string, g uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[k] != g {
		return
	}
	c.cache.Set(k, ok)
}

func key(propertyID string, year, month int) string {
	return core.PropertyMonth{PropertyID: propertyID, Year: year, Month: month}.Key()
}

// IsReady reports readiness for one property-month. Concurrent calls for the
// same key share a single lookup.
func (c *Checker) IsReady(ctx context.Context, propertyID string, year, month int) Readiness {
	pm := core.PropertyMonth{PropertyID: propertyID, Year: year, Month: month}
	if err := pm.Validate(); err != nil {
		return failed(propertyID, err)
	}

	k := pm.Key()
	if ok, hit := c.cache.Get(k); hit {
		return c.answer(propertyID, year, month, ok)
	}

	v, err, _ := c.group.Do(k, func() (any, error) {
		if ok, hit := c.cache.Get(k); hit {
			return ok, nil
		}
		g := c.generation(k)
		ok, err := c.lookup.HasInventoryInvoice(ctx, propertyID, year, month)
		if err != nil {
			return false, err
		}
		c.store(k, g, ok)
		return ok, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "Inventory readiness lookup failed",
			"property_id", propertyID, "year", year, "month", month, "error", err)
		return failed(propertyID, err)
	}
	return c.answer(propertyID, year, month, v.(bool))
}

func (c *Checker) answer(id string, year, month int, ok bool) Readiness {
	if ok {
		return ready(id)
	}
	return missing(id, year, month)
}

// BatchCheck resolves every id, using one batch lookup for the ids not yet
// cached. A failed batch lookup marks each uncached id as errored.
func (c *Checker) BatchCheck(ctx context.Context, propertyIDs []string, year, month int) map[string]Readiness {
	out := make(map[string]Readiness, len(propertyIDs))
	if err := core.ValidateYearMonth(year, month); err != nil {
		for _, id := range propertyIDs {
			out[id] = failed(id, err)
		}
		return out
	}

	var uncached []string
	for _, id := range propertyIDs {
		if _, seen := out[id]; seen {
			continue
		}
		if strings.TrimSpace(id) == "" {
			out[id] = failed(id, core.ErrEmptyPropertyID)
			continue
		}
		if ok, hit := c.cache.Get(key(id, year, month)); hit {
			out[id] = c.answer(id, year, month, ok)
			continue
		}
		out[id] = Readiness{}
		uncached = append(uncached, id)
	}
	if len(uncached) == 0 {
		return out
	}

	gens := make(map[string]uint64, len(uncached))
	for _, id := range uncached {
		gens[id] = c.generation(key(id, year, month))
	}
	found, err := c.lookup.InventoryInvoicesExist(ctx, uncached, year, month)
	if err != nil {
		slog.WarnContext(ctx, "Batch inventory readiness lookup failed",
			"properties", len(uncached), "year", year, "month", month, "error", err)
		for _, id := range uncached {
			out[id] = failed(id, err)
		}
		return out
	}
	for _, id := range uncached {
		ok := found[id]
		c.store(key(id, year, month), gens[id], ok)
		out[id] = c.answer(id, year, month, ok)
	}
	return out
}

// RequireReady returns a *BlockedError (wrapped as a validation error) when any
// of the ids is missing its inventory invoice or could not be checked.
func (c *Checker) RequireReady(ctx context.Context, propertyIDs []string, year, month int) error {
	results := c.BatchCheck(ctx, propertyIDs, year, month)
	blocked := &BlockedError{Year: year, Month: month}
	for _, id := range propertyIDs {
		r := results[id]
		switch r.State {
		case StateReady:
		case StateMissing:
			blocked.Missing = append(blocked.Missing, id)
		default:
			if blocked.Errored == nil {
				blocked.Errored = make(map[string]string)
			}
			blocked.Errored[id] = r.Reason
		}
	}
	if len(blocked.Missing) == 0 && len(blocked.Errored) == 0 {
		return nil
	}
	return core.E(core.KindValidation, "inventory.require_ready", blocked)
}

// Invalidate forgets the cached answer for one property-month. Lookups
// already in flight for it no longer reach the cache or new callers.
func (c *Checker) Invalidate(propertyID string, year, month int) {
	k := key(propertyID, year, month)
	c.mu.Lock()
	c.gen[k]++
	c.cache.Delete(k)
	c.mu.Unlock()
	c.group.Forget(k)
}
