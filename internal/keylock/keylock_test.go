package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesKey(t *testing.T) {
	table := New()
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := table.Lock(context.Background(), "doc")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("saw %d holders at once, want 1", maxSeen.Load())
	}
}

func TestLockDifferentShards(t *testing.T) {
	table := NewWithShards(2)
	a, b := "a", "b"
	if table.shard(a) == table.shard(b) {
		b = "c"
	}
	if table.shard(a) == table.shard(b) {
		t.Skip("keys hash to the same shard")
	}

	unlockA, err := table.Lock(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := table.Lock(ctx, b)
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	unlockB()
}

func TestLockContextCanceled(t *testing.T) {
	table := NewWithShards(1)
	unlock, err := table.Lock(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := table.Lock(ctx, "doc"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock2, err := table.Lock(context.Background(), "doc")
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	unlock2()
}
