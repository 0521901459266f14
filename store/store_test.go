package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(identity string, position int, code string) *Record {
	return &Record{
		Identity:         identity,
		FileName:         identity + "_signed_20240309_140500.pdf",
		OriginalFilename: identity + ".pdf",
		Sealed:           position == 1,
		Stamp: Stamp{
			Position:         position,
			SignerName:       "Signer",
			SignerEmail:      "signer@example.com",
			JobTitle:         "Directeur",
			SignedAt:         time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
			VerificationCode: code,
			Rect:             [4]float64{50, 20, 200, 139.5},
			PageIndex:        0,
			FieldName:        "Signature1",
		},
		ContentHash:    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		TotalSigners:   2,
		SigningMode:    "sequential",
		RequestorEmail: "owner@example.com",
		WebURL:         "https://example.com/doc",
		Artifact:       []byte("%PDF-1.7\n%%EOF\n"),
	}
}

func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		s := newStore(t)
		r := record("contract", 0, "a1b2c3d4e5")
		require.NoError(t, s.Save(ctx, r))
		require.NotEmpty(t, r.ID)
		assert.True(t, r.Signed)
		assert.EqualValues(t, len(r.Artifact), r.FileSize)
		assert.False(t, r.CreatedAt.IsZero())

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Identity, got.Identity)
		assert.Equal(t, r.Stamp.Rect, got.Stamp.Rect)
		assert.Equal(t, r.Stamp.VerificationCode, got.Stamp.VerificationCode)
		assert.True(t, r.Stamp.SignedAt.Equal(got.Stamp.SignedAt))
		assert.Equal(t, r.Artifact, got.Artifact)
		assert.Equal(t, r.ContentHash, got.ContentHash)
		assert.Equal(t, r.RequestorEmail, got.RequestorEmail)
		assert.True(t, got.Signed)
	})

	t.Run("lookup by verification code", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("contract", 0, "0000000001")))
		require.NoError(t, s.Save(ctx, record("contract", 1, "0000000002")))

		got, err := s.ByVerificationCode(ctx, "0000000002")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stamp.Position)
		assert.True(t, got.Sealed)

		_, err = s.ByVerificationCode(ctx, "ffffffffff")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list by identity", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("contract", 1, "0000000002")))
		require.NoError(t, s.Save(ctx, record("contract", 0, "0000000001")))
		require.NoError(t, s.Save(ctx, record("other", 0, "0000000003")))

		list, err := s.ListByIdentity(ctx, "contract")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 0, list[0].Stamp.Position)
		assert.Equal(t, 1, list[1].Stamp.Position)

		list, err = s.ListByIdentity(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("duplicates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("contract", 0, "0000000001")))
		assert.ErrorIs(t, s.Save(ctx, record("contract", 0, "0000000002")), ErrDuplicate)
		assert.ErrorIs(t, s.Save(ctx, record("contract", 1, "0000000001")), ErrDuplicate)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemory()
	r := record("contract", 0, "0000000001")
	require.NoError(t, s.Save(context.Background(), r))
	r.Artifact[0] = 'X'

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, byte('%'), got.Artifact[0])
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "records.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreInMemory(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), record("contract", 0, "0000000001")))
	list, err := s.ListByIdentity(context.Background(), "contract")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	r := record("contract", 0, "0000000001")
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, s.Close())

	// Migrations are not re-applied and the data survives.
	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "contract", got.Identity)
}
