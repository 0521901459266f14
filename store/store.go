// Package store persists the metadata and artifacts of signature
// submissions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a record for the same identity and
	// signer position, or with the same verification code, already exists.
	ErrDuplicate = errors.New("record already exists")
)

// Stamp describes the visual stamp a signer placed on the document.
type Stamp struct {
	Position         int
	SignerName       string
	SignerEmail      string
	JobTitle         string
	SignedAt         time.Time
	VerificationCode string

	// Rect is the stamp's bounding box in PDF user space.
	Rect      [4]float64
	PageIndex int
	FieldName string
}

// Record is the persisted outcome of one submission.
type Record struct {
	ID       string
	Identity string

	// FileID is the identifier the upload destination assigned, if any.
	FileID   string
	FileName string
	FileSize int64

	// Signed is always true for stored records; Sealed reports whether the
	// artifact carries the final cryptographic signature.
	Signed bool
	Sealed bool

	OriginalFilename string
	Stamp            Stamp
	ContentHash      string
	TotalSigners     int
	SigningMode      string
	RequestorEmail   string

	WebURL      string
	DownloadURL string

	Artifact []byte

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store persists records.
type Store interface {
	// Save stores a new record, assigning its ID and timestamps when unset.
	Save(ctx context.Context, r *Record) error

	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (*Record, error)

	// ByVerificationCode returns the record whose stamp carries code.
	ByVerificationCode(ctx context.Context, code string) (*Record, error)

	// ListByIdentity returns the records of a document ordered by signer
	// position.
	ListByIdentity(ctx context.Context, identity string) ([]*Record, error)
}

func prepare(r *Record, now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ModifiedAt.IsZero() {
		r.ModifiedAt = r.CreatedAt
	}
	if r.FileSize == 0 {
		r.FileSize = int64(len(r.Artifact))
	}
	r.Signed = true
}
