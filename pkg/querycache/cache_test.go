package querycache

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

type stage struct {
	Number int
	Status string
}

func TestFetchCachesUntilInvalidated(t *testing.T) {
	c := New()
	var calls int32
	fetch := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"a"}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := Fetch(context.Background(), c, AllOrders, fetch); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	c.Invalidate(AllOrders)
	if !c.IsStale(AllOrders) {
		t.Fatal("expected key to be stale")
	}
	if _, err := Fetch(context.Background(), c, AllOrders, fetch); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", calls)
	}
}

func TestFetchErrorLeavesCacheUntouched(t *testing.T) {
	c := New()
	_, err := Fetch(context.Background(), c, AllOrders, func(context.Context) (int, error) {
		return 0, errors.New("store down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := Peek[int](c, AllOrders); ok {
		t.Fatal("failed fetch must not populate the cache")
	}
}

func TestFetchTypeMismatch(t *testing.T) {
	c := New()
	if _, err := Fetch(context.Background(), c, AllOrders, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := Fetch(context.Background(), c, AllOrders, func(context.Context) (string, error) { return "", nil }); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestConcurrentFetchSharesOneCall(t *testing.T) {
	c := New()
	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := Fetch(context.Background(), c, AllOrders, fetch); err != nil || v != 7 {
				t.Errorf("unexpected result %d %v", v, err)
			}
		}()
	}
	for atomic.LoadInt32(&calls) == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()
	if calls > 5 || calls < 1 {
		t.Fatalf("unexpected call count %d", calls)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	user := uuid.New()
	order := uuid.New()
	for _, key := range []Key{OrdersForUser(user), AllOrders, StagesForOrder(order)} {
		if _, err := Fetch(context.Background(), c, key, func(context.Context) (int, error) { return 1, nil }); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}

	if n := c.InvalidatePrefix(PrefixOrders); n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}
	if !c.IsStale(AllOrders) || !c.IsStale(OrdersForUser(user)) {
		t.Fatal("expected order keys stale")
	}
	if c.IsStale(StagesForOrder(order)) {
		t.Fatal("stage key should stay fresh")
	}
}

func TestOptimisticKeepsPatchOnSuccess(t *testing.T) {
	c := New()
	key := StagesForOrder(uuid.New())
	initial := []stage{{1, "pending"}, {2, "pending"}}
	if _, err := Fetch(context.Background(), c, key, func(context.Context) ([]stage, error) { return initial, nil }); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var seenDuringCommit []stage
	err := Optimistic(context.Background(), c, key, completeFirst, func(context.Context) error {
		seenDuringCommit, _ = Peek[[]stage](c, key)
		return nil
	})
	if err != nil {
		t.Fatalf("optimistic: %v", err)
	}
	if seenDuringCommit[0].Status != "completed" {
		t.Fatal("expected patch to be visible while commit runs")
	}
	got, _ := Peek[[]stage](c, key)
	if got[0].Status != "completed" {
		t.Fatalf("expected patched value to remain, got %+v", got)
	}
	if initial[0].Status != "pending" {
		t.Fatal("patch mutated the snapshot")
	}
}

func TestOptimisticRollbackRestoresExactSnapshot(t *testing.T) {
	c := New()
	key := StagesForOrder(uuid.New())
	initial := []stage{{1, "completed"}, {2, "pending"}, {3, "pending"}}
	if _, err := Fetch(context.Background(), c, key, func(context.Context) ([]stage, error) { return initial, nil }); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	before, _ := Peek[[]stage](c, key)
	staleBefore := c.IsStale(key)

	boom := errors.New("write failed")
	err := Optimistic(context.Background(), c, key, completeFirst, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}

	after, _ := Peek[[]stage](c, key)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("expected %+v after rollback, got %+v", before, after)
	}
	if &before[0] != &after[0] {
		t.Fatal("expected the original backing array to be restored")
	}
	if c.IsStale(key) != staleBefore {
		t.Fatal("staleness changed across rollback")
	}
}

func TestOptimisticRollbackOnMissingKey(t *testing.T) {
	c := New()
	key := CartForUser(uuid.New())
	err := Optimistic(context.Background(), c, key, func(v int) int { return v + 1 }, func(context.Context) error {
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := Peek[int](c, key); ok {
		t.Fatal("expected key to be absent again")
	}
}

func TestRefetchDoesNotClobberOptimisticWrite(t *testing.T) {
	c := New()
	key := StagesForOrder(uuid.New())
	if _, err := Fetch(context.Background(), c, key, func(context.Context) ([]stage, error) {
		return []stage{{1, "pending"}}, nil
	}); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	got, err := Refetch(context.Background(), c, key, func(context.Context) ([]stage, error) {
		if err := Optimistic(context.Background(), c, key, completeFirst, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("optimistic: %v", err)
		}
		return []stage{{1, "pending"}}, nil
	})
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if got[0].Status != "completed" {
		t.Fatalf("expected optimistic value to win over an older read, got %+v", got)
	}
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	release, err := g.Acquire("advance:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !g.Busy("advance:1") {
		t.Fatal("expected busy")
	}
	if _, err := g.Acquire("advance:1"); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := g.Acquire("advance:2"); err != nil {
		t.Fatalf("other mutation should not be blocked: %v", err)
	}
	release()
	release()
	if g.Busy("advance:1") {
		t.Fatal("expected released")
	}
}

func completeFirst(in []stage) []stage {
	out := make([]stage, len(in))
	copy(out, in)
	out[0].Status = "completed"
	return out
}
