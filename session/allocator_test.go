package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runAllocatorTests exercises the behaviour every Allocator shares.
func runAllocatorTests(t *testing.T, newAllocator func(t *testing.T) Allocator) {
	t.Run("sequential positions", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		for want := 0; want < 3; want++ {
			pos, s, err := a.Allocate(ctx, "contract", 3, Sequential)
			require.NoError(t, err)
			assert.Equal(t, Position(want), pos)
			assert.Equal(t, want+1, s.Completed)
			assert.Equal(t, 3, s.TotalSigners)
			assert.Equal(t, Sequential, s.Mode)
		}

		s, err := a.Session(ctx, "contract")
		require.NoError(t, err)
		assert.Equal(t, Sealed, s.State())

		_, _, err = a.Allocate(ctx, "contract", 3, Sequential)
		assert.ErrorIs(t, err, ErrSessionAlreadyComplete)

		s, err = a.Session(ctx, "contract")
		require.NoError(t, err)
		assert.Equal(t, 3, s.Completed, "a rejected allocation must not change the session")
	})

	t.Run("identities are independent", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		p1, _, err := a.Allocate(ctx, "a", 2, Parallel)
		require.NoError(t, err)
		p2, _, err := a.Allocate(ctx, "b", 2, Parallel)
		require.NoError(t, err)
		assert.Equal(t, Position(0), p1)
		assert.Equal(t, Position(0), p2)
	})

	t.Run("total signers mismatch", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		_, _, err := a.Allocate(ctx, "doc", 2, Sequential)
		require.NoError(t, err)
		_, s, err := a.Allocate(ctx, "doc", 3, Sequential)
		assert.ErrorIs(t, err, ErrTotalSignersMismatch)
		assert.Equal(t, 2, s.TotalSigners)

		s, err = a.Session(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, 1, s.Completed)
	})

	t.Run("release latest allocation", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		_, _, err := a.Allocate(ctx, "doc", 3, Sequential)
		require.NoError(t, err)
		pos, _, err := a.Allocate(ctx, "doc", 3, Sequential)
		require.NoError(t, err)

		assert.ErrorIs(t, a.Release(ctx, "doc", 0), ErrSequenceRaceDetected)
		require.NoError(t, a.Release(ctx, "doc", pos))
		assert.ErrorIs(t, a.Release(ctx, "doc", pos), ErrSequenceRaceDetected)

		again, _, err := a.Allocate(ctx, "doc", 3, Sequential)
		require.NoError(t, err)
		assert.Equal(t, pos, again, "a released position is handed out again")
	})

	t.Run("release first allocation restores not started", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		pos, _, err := a.Allocate(ctx, "doc", 2, Sequential)
		require.NoError(t, err)
		require.NoError(t, a.Release(ctx, "doc", pos))

		_, err = a.Session(ctx, "doc")
		assert.ErrorIs(t, err, ErrSessionNotFound)

		// The total can be chosen again once the session is gone.
		_, s, err := a.Allocate(ctx, "doc", 4, Sequential)
		require.NoError(t, err)
		assert.Equal(t, 4, s.TotalSigners)
	})

	t.Run("unknown session", func(t *testing.T) {
		a := newAllocator(t)
		_, err := a.Session(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, a.Release(context.Background(), "missing", 0), ErrSequenceRaceDetected)
	})

	t.Run("invalid requests", func(t *testing.T) {
		a := newAllocator(t)
		ctx := context.Background()

		tests := []struct {
			name     string
			identity Identity
			total    int
			mode     Mode
		}{
			{"empty identity", "", 1, Sequential},
			{"zero signers", "doc", 0, Sequential},
			{"negative signers", "doc", -2, Parallel},
			{"unknown mode", "doc", 1, Mode("random")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := a.Allocate(ctx, tt.identity, tt.total, tt.mode)
				assert.ErrorIs(t, err, ErrInvalidRequest)
			})
		}
	})

	t.Run("concurrent allocations are dense and distinct", func(t *testing.T) {
		a := newAllocator(t)
		const n = 25

		var (
			mu        sync.Mutex
			positions []int
		)
		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < n; i++ {
			g.Go(func() error {
				pos, _, err := a.Allocate(ctx, "shared", n, Parallel)
				if err != nil {
					return err
				}
				mu.Lock()
				positions = append(positions, int(pos))
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		sort.Ints(positions)
		for i, p := range positions {
			assert.Equal(t, i, p)
		}

		_, _, err := a.Allocate(context.Background(), "shared", n, Parallel)
		assert.ErrorIs(t, err, ErrSessionAlreadyComplete)
	})

	t.Run("concurrent over-subscription", func(t *testing.T) {
		a := newAllocator(t)
		const total, callers = 3, 12

		var (
			mu       sync.Mutex
			ok       int
			rejected int
		)
		var g errgroup.Group
		for i := 0; i < callers; i++ {
			g.Go(func() error {
				_, _, err := a.Allocate(context.Background(), "busy", total, Sequential)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrSessionAlreadyComplete):
					rejected++
				default:
					return fmt.Errorf("unexpected error: %w", err)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, total, ok)
		assert.Equal(t, callers-total, rejected)
	})
}
