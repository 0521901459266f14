package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS signing_sessions (
	identity      TEXT PRIMARY KEY,
	total_signers INTEGER NOT NULL CHECK (total_signers > 0),
	completed     INTEGER NOT NULL CHECK (completed >= 0),
	mode          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	CHECK (completed <= total_signers)
)`

// PostgresAllocator keeps sessions in a PostgreSQL table. Each allocation is
// a single conditional upsert so concurrent callers serialize on the row.
type PostgresAllocator struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed allocator.
func NewPostgres(db *sql.DB) *PostgresAllocator {
	return &PostgresAllocator{db: db}
}

// OpenPostgres connects to dsn and creates the sessions table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresAllocator, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	a := NewPostgres(db)
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return a, db, nil
}

// Migrate creates the sessions table if needed.
func (a *PostgresAllocator) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create signing_sessions: %w", err)
	}
	return nil
}

func (a *PostgresAllocator) Allocate(ctx context.Context, identity Identity, totalSigners int, mode Mode) (Position, Session, error) {
	if err := validate(identity, totalSigners, mode); err != nil {
		return 0, Session{}, err
	}

	query := `
		INSERT INTO signing_sessions (identity, total_signers, completed, mode, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $4)
		ON CONFLICT (identity) DO UPDATE SET
			completed = signing_sessions.completed + 1,
			updated_at = EXCLUDED.updated_at
		WHERE signing_sessions.completed < signing_sessions.total_signers
		  AND signing_sessions.total_signers = EXCLUDED.total_signers
		RETURNING identity, total_signers, completed, mode, created_at, updated_at
	`
	s, err := scanSession(a.db.QueryRowContext(ctx, query, string(identity), totalSigners, string(mode), time.Now().UTC()))
	if err == nil {
		return Position(s.Completed - 1), s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, Session{}, fmt.Errorf("allocate position: %w", err)
	}

	// The conditional update matched nothing; tell the caller why.
	s, err = a.Session(ctx, identity)
	if err != nil {
		return 0, Session{}, err
	}
	if s.TotalSigners != totalSigners {
		return 0, s, fmt.Errorf("%w: session has %d signers, got %d", ErrTotalSignersMismatch, s.TotalSigners, totalSigners)
	}
	return 0, s, ErrSessionAlreadyComplete
}

func (a *PostgresAllocator) Release(ctx context.Context, identity Identity, position Position) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE signing_sessions
		SET completed = completed - 1, updated_at = $3
		WHERE identity = $1 AND completed = $2
	`, string(identity), int(position)+1, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release position: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release position rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: cannot release position %d of %s", ErrSequenceRaceDetected, position, identity)
	}

	_, err = a.db.ExecContext(ctx, `DELETE FROM signing_sessions WHERE identity = $1 AND completed = 0`, string(identity))
	if err != nil {
		return fmt.Errorf("drop empty session: %w", err)
	}
	return nil
}

func (a *PostgresAllocator) Session(ctx context.Context, identity Identity) (Session, error) {
	query := `
		SELECT identity, total_signers, completed, mode, created_at, updated_at
		FROM signing_sessions
		WHERE identity = $1
	`
	s, err := scanSession(a.db.QueryRowContext(ctx, query, string(identity)))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func scanSession(row *sql.Row) (Session, error) {
	var (
		s        Session
		identity string
		mode     string
	)
	if err := row.Scan(&identity, &s.TotalSigners, &s.Completed, &mode, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	s.Identity = Identity(identity)
	s.Mode = Mode(mode)
	return s, nil
}
