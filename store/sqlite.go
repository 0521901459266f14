package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type migration struct {
	Version int
	Name    string
	UpSQL   string
}

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the embedded migrations. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func loadMigrations() ([]migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{Version: v, Name: f.Name(), UpSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// migrate applies embedded migrations in order.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version=?`, m.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.Version
	}
	return tx.Commit()
}

const recordColumns = `id, identity, file_id, file_name, file_size, signed, sealed, original_filename,
	signer_name, signer_email, job_title, signed_at, verification_code, pdf_hash,
	signer_index, total_signers, signing_mode, requestor_email, page_index, field_name, rect,
	web_url, download_url, artifact, created_at, modified_at`

func (s *SQLiteStore) Save(ctx context.Context, r *Record) error {
	prepare(r, time.Now().UTC())

	_, err := s.db.ExecContext(ctx, `INSERT INTO signature_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Identity, r.FileID, r.FileName, r.FileSize, r.Signed, r.Sealed, r.OriginalFilename,
		r.Stamp.SignerName, r.Stamp.SignerEmail, r.Stamp.JobTitle, r.Stamp.SignedAt.UTC(), r.Stamp.VerificationCode, r.ContentHash,
		r.Stamp.Position, r.TotalSigners, r.SigningMode, r.RequestorEmail, r.Stamp.PageIndex, r.Stamp.FieldName, formatRect(r.Stamp.Rect),
		r.WebURL, r.DownloadURL, r.Artifact, r.CreatedAt.UTC(), r.ModifiedAt.UTC(),
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if err != nil {
		return fmt.Errorf("insert signature record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM signature_records WHERE id = ?`, id)
}

func (s *SQLiteStore) ByVerificationCode(ctx context.Context, code string) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM signature_records WHERE verification_code = ?`, code)
}

func (s *SQLiteStore) ListByIdentity(ctx context.Context, identity string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM signature_records
		WHERE identity = ? ORDER BY signer_index`, identity)
	if err != nil {
		return nil, fmt.Errorf("list signature records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, arg any) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r    Record
		rect string
	)
	err := row.Scan(
		&r.ID, &r.Identity, &r.FileID, &r.FileName, &r.FileSize, &r.Signed, &r.Sealed, &r.OriginalFilename,
		&r.Stamp.SignerName, &r.Stamp.SignerEmail, &r.Stamp.JobTitle, &r.Stamp.SignedAt, &r.Stamp.VerificationCode, &r.ContentHash,
		&r.Stamp.Position, &r.TotalSigners, &r.SigningMode, &r.RequestorEmail, &r.Stamp.PageIndex, &r.Stamp.FieldName, &rect,
		&r.WebURL, &r.DownloadURL, &r.Artifact, &r.CreatedAt, &r.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan signature record: %w", err)
	}
	if r.Stamp.Rect, err = parseRect(rect); err != nil {
		return nil, err
	}
	return &r, nil
}

func formatRect(r [4]float64) string {
	return fmt.Sprintf("%g %g %g %g", r[0], r[1], r[2], r[3])
}

func parseRect(s string) ([4]float64, error) {
	var r [4]float64
	if _, err := fmt.Sscanf(s, "%g %g %g %g", &r[0], &r[1], &r[2], &r[3]); err != nil {
		return r, fmt.Errorf("invalid stored rectangle %q: %w", s, err)
	}
	return r, nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
