package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"backoffice/internal/core"
)

type fakeLookup struct {
	mu        sync.Mutex
	invoices  map[string]bool
	err       error
	delay     time.Duration
	single    int32
	batch     int32
	batchSeen [][]string
}

func (f *fakeLookup) HasInventoryInvoice(ctx context.Context, propertyID string, year, month int) (bool, error) {
	atomic.AddInt32(&f.single, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoices[propertyID], nil
}

func (f *fakeLookup) InventoryInvoicesExist(ctx context.Context, ids []string, year, month int) (map[string]bool, error) {
	atomic.AddInt32(&f.batch, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchSeen = append(f.batchSeen, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = f.invoices[id]
	}
	return out, nil
}

func TestIsReady_SecondCallServedFromCache(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{"lakeview": true}}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	first := c.IsReady(ctx, "lakeview", 2025, 3)
	second := c.IsReady(ctx, "lakeview", 2025, 3)

	if !first.Ready || !second.Ready {
		t.Fatalf("expected ready twice, got %+v %+v", first, second)
	}
	if lookup.single != 1 {
		t.Fatalf("expected exactly one lookup, got %d", lookup.single)
	}
}

func TestIsReady_MissingIsCachedErrorIsNot(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{}}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	r := c.IsReady(ctx, "p1", 2025, 3)
	if r.Ready || r.State != StateMissing || r.Reason == "" {
		t.Fatalf("expected missing with reason, got %+v", r)
	}
	c.IsReady(ctx, "p1", 2025, 3)
	if lookup.single != 1 {
		t.Fatalf("expected missing answer to be cached, got %d lookups", lookup.single)
	}

	lookup.err = errors.New("sheet unavailable")
	for i := 0; i < 2; i++ {
		r = c.IsReady(ctx, "p2", 2025, 3)
		if r.State != StateError || r.Ready {
			t.Fatalf("expected error state, got %+v", r)
		}
	}
	if lookup.single != 3 {
		t.Fatalf("expected errors not to be cached, got %d lookups", lookup.single)
	}
}

func TestIsReady_ConcurrentCallsShareLookup(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{"p1": true}, delay: 20 * time.Millisecond}
	c := NewChecker(lookup, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := c.IsReady(context.Background(), "p1", 2025, 3); !r.Ready {
				t.Errorf("expected ready, got %+v", r)
			}
		}()
	}
	wg.Wait()

	if lookup.single != 1 {
		t.Fatalf("expected one shared lookup, got %d", lookup.single)
	}
}

func TestIsReady_InvalidKey(t *testing.T) {
	c := NewChecker(&fakeLookup{}, nil)
	if r := c.IsReady(context.Background(), "p1", 2025, 13); r.State != StateError {
		t.Fatalf("expected error state for month 13, got %+v", r)
	}
}

func TestBatchCheck_SingleLookupForUncached(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{"a": true, "c": true}}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	c.IsReady(ctx, "a", 2025, 3)
	got := c.BatchCheck(ctx, []string{"a", "b", "c", "b"}, 2025, 3)

	if lookup.batch != 1 {
		t.Fatalf("expected one batch lookup, got %d", lookup.batch)
	}
	if len(lookup.batchSeen[0]) != 2 {
		t.Fatalf("expected only b and c to be looked up, got %v", lookup.batchSeen[0])
	}
	if !got["a"].Ready || got["b"].Ready || !got["c"].Ready {
		t.Fatalf("unexpected results %+v", got)
	}
	if got["b"].State != StateMissing {
		t.Fatalf("expected b missing, got %+v", got["b"])
	}

	c.BatchCheck(ctx, []string{"a", "b", "c"}, 2025, 3)
	if lookup.batch != 1 {
		t.Fatalf("expected fully cached second batch, got %d lookups", lookup.batch)
	}
}

func TestRequireReady_BlocksNamingEveryProperty(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{"a": true}}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	if err := c.RequireReady(ctx, []string{"a"}, 2025, 3); err != nil {
		t.Fatalf("expected ready batch, got %v", err)
	}

	err := c.RequireReady(ctx, []string{"a", "b", "c"}, 2025, 3)
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %T", err)
	}
	if len(blocked.Missing) != 2 || blocked.Missing[0] != "b" || blocked.Missing[1] != "c" {
		t.Fatalf("expected b and c missing, got %v", blocked.Missing)
	}
}

func TestRequireReady_LookupErrorBlocks(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("timeout")}
	c := NewChecker(lookup, nil)

	err := c.RequireReady(context.Background(), []string{"a", "b"}, 2025, 3)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if len(blocked.Errored) != 2 || len(blocked.Missing) != 0 {
		t.Fatalf("expected both properties errored, got %+v", blocked)
	}
}

func TestInvalidate(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{}}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	if r := c.IsReady(ctx, "p1", 2025, 3); r.Ready {
		t.Fatal("expected not ready before invoice")
	}
	lookup.mu.Lock()
	lookup.invoices["p1"] = true
	lookup.mu.Unlock()

	if r := c.IsReady(ctx, "p1", 2025, 3); r.Ready {
		t.Fatal("expected stale cached answer before invalidate")
	}
	c.Invalidate("p1", 2025, 3)
	if r := c.IsReady(ctx, "p1", 2025, 3); !r.Ready {
		t.Fatal("expected ready after invalidate")
	}
}

// gatedLookup blocks HasInventoryInvoice until release is closed.
type gatedLookup struct {
	fakeLookup
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedLookup) HasInventoryInvoice(ctx context.Context, propertyID string, year, month int) (bool, error) {
	g.mu.Lock()
	ok := g.invoices[propertyID]
	g.mu.Unlock()
	atomic.AddInt32(&g.single, 1)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return ok, nil
}

func TestInvalidateDuringLookupDiscardsStaleAnswer(t *testing.T) {
	lookup := &gatedLookup{
		fakeLookup: fakeLookup{invoices: map[string]bool{}},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c := NewChecker(lookup, nil)
	ctx := context.Background()

	first := make(chan Readiness, 1)
	go func() { first <- c.IsReady(ctx, "p1", 2025, 3) }()
	<-lookup.entered

	lookup.mu.Lock()
	lookup.invoices["p1"] = true
	lookup.mu.Unlock()
	c.Invalidate("p1", 2025, 3)
	close(lookup.release)

	if r := <-first; r.State != StateMissing {
		t.Fatalf("in-flight answer = %+v, want missing", r)
	}
	if r := c.IsReady(ctx, "p1", 2025, 3); !r.Ready {
		t.Fatalf("after invalidate got %+v, want ready", r)
	}
	if n := atomic.LoadInt32(&lookup.single); n != 2 {
		t.Fatalf("lookups = %d, want 2", n)
	}
}

func TestInvalidateDuringBatchLookupDiscardsStaleAnswer(t *testing.T) {
	lookup := &fakeLookup{invoices: map[string]bool{}}
	inv := &invalidatingLookup{fakeLookup: lookup, onBatch: func() {
		lookup.mu.Lock()
		lookup.invoices["p1"] = true
		lookup.mu.Unlock()
	}}
	c := NewChecker(inv, nil)
	inv.checker = c

	got := c.BatchCheck(context.Background(), []string{"p1"}, 2025, 3)
	if got["p1"].State != StateMissing {
		t.Fatalf("batch answer = %+v, want missing", got["p1"])
	}
	if r := c.IsReady(context.Background(), "p1", 2025, 3); !r.Ready {
		t.Fatalf("after invalidate got %+v, want ready", r)
	}
}

// invalidatingLookup records an invoice and invalidates it while the batch
// lookup is running, after the answer has been read.
type invalidatingLookup struct {
	*fakeLookup
	onBatch func()
	checker *Checker
}

func (l *invalidatingLookup) InventoryInvoicesExist(ctx context.Context, ids []string, year, month int) (map[string]bool, error) {
	out, err := l.fakeLookup.InventoryInvoicesExist(ctx, ids, year, month)
	l.onBatch()
	for _, id := range ids {
		l.checker.Invalidate(id, year, month)
	}
	return out, err
}
