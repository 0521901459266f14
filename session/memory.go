package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryAllocator keeps sessions in process memory.
type MemoryAllocator struct {
	mu       sync.Mutex
	sessions map[Identity]*Session
	now      func() time.Time
}

// NewMemory returns an empty in-memory allocator.
func NewMemory() *MemoryAllocator {
	return &MemoryAllocator{
		sessions: make(map[Identity]*Session),
		now:      time.Now,
	}
}

func (m *MemoryAllocator) Allocate(ctx context.Context, identity Identity, totalSigners int, mode Mode) (Position, Session, error) {
	if err := validate(identity, totalSigners, mode); err != nil {
		return 0, Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return 0, Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[identity]
	if !ok {
		s = &Session{
			Identity:     identity,
			TotalSigners: totalSigners,
			Mode:         mode,
			CreatedAt:    now,
		}
		m.sessions[identity] = s
	}
	if s.TotalSigners != totalSigners {
		return 0, *s, fmt.Errorf("%w: session has %d signers, got %d", ErrTotalSignersMismatch, s.TotalSigners, totalSigners)
	}
	if s.Completed >= s.TotalSigners {
		return 0, *s, ErrSessionAlreadyComplete
	}

	pos := Position(s.Completed)
	s.Completed++
	s.UpdatedAt = now
	return pos, *s, nil
}

func (m *MemoryAllocator) Release(ctx context.Context, identity Identity, position Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[identity]
	if !ok || s.Completed != int(position)+1 {
		return fmt.Errorf("%w: cannot release position %d of %s", ErrSequenceRaceDetected, position, identity)
	}
	s.Completed--
	s.UpdatedAt = m.now()
	if s.Completed == 0 {
		delete(m.sessions, identity)
	}
	return nil
}

func (m *MemoryAllocator) Session(ctx context.Context, identity Identity) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[identity]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// Sessions returns a snapshot of every known session.
func (m *MemoryAllocator) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}
