package monthend

import (
	"context"
	"sync"

	"backoffice/internal/core"
)

// View is a caller-side copy of the statuses of one month. It supports the
// optimistic pattern: apply a status locally, run the backing call, roll back
// on failure (a panic counts as failure). The store stays the source of truth.
type View struct {
	mu       sync.Mutex
	statuses map[string]core.Status
}

func NewView(sts []core.MonthEndStatus) *View {
	v := &View{statuses: make(map[string]core.Status, len(sts))}
	for _, st := range sts {
		v.statuses[st.PropertyID] = st.Status
	}
	return v
}

// Status returns the local status of id, draft when unseen.
func (v *View) Status(id string) core.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st, ok := v.statuses[id]; ok {
		return st
	}
	return core.StatusDraft
}

func (v *View) Set(id string, st core.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[id] = st
}

// Tentative sets id to st, then runs commit. If commit fails the previous
// status is restored and the error returned.
func (v *View) Tentative(ctx context.Context, id string, st core.Status, commit func(ctx context.Context) error) error {
	v.mu.Lock()
	prev, had := v.statuses[id]
	v.statuses[id] = st
	v.mu.Unlock()

	err := runCommit(ctx, commit)
	if err == nil {
		return nil
	}

	v.mu.Lock()
	// Only roll back our own write.
	if v.statuses[id] == st {
		if had {
			v.statuses[id] = prev
		} else {
			delete(v.statuses, id)
		}
	}
	v.mu.Unlock()
	return err
}

// Counts buckets the view by status. Every status has an entry.
func (v *View) Counts() map[core.Status]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := map[core.Status]int{
		core.StatusDraft:    0,
		core.StatusReady:    0,
		core.StatusComplete: 0,
	}
	for _, st := range v.statuses {
		out[st]++
	}
	return out
}

func runCommit(ctx context.Context, commit func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.KindInternal, "monthend.tentative", "commit panicked: %v", r)
		}
	}()
	return commit(ctx)
}
