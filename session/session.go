// Package session allocates signer positions for multi-party signing
// sessions.
//
// A session is keyed by the identity of the logical document and fixes the
// number of signers when the first signer arrives. Every call to Allocate
// hands out the next position exactly once; positions are dense and start at
// zero. Allocation is the only way to obtain a position.
package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrSessionAlreadyComplete is returned when every signer of the
	// session has already been allocated a position.
	ErrSessionAlreadyComplete = errors.New("signing session already complete")

	// ErrSequenceRaceDetected is returned when a release does not match the
	// most recent allocation of the session.
	ErrSequenceRaceDetected = errors.New("signing sequence race detected")

	// ErrTotalSignersMismatch is returned when a caller claims a different
	// number of signers than the session was started with.
	ErrTotalSignersMismatch = errors.New("total signers does not match the session")

	// ErrSessionNotFound is returned for identities without a session.
	ErrSessionNotFound = errors.New("signing session not found")

	// ErrInvalidRequest is returned for malformed allocation arguments.
	ErrInvalidRequest = errors.New("invalid allocation request")
)

// Identity is the stable key shared by all signers of one document.
type Identity string

// Position is a signer's zero based index in the signing order.
type Position int

// Mode is the signing mode of a session.
type Mode string

const (
	// Sequential sessions expect each signer to submit the output of the
	// previous one.
	Sequential Mode = "sequential"

	// Parallel sessions accept the original document from every signer.
	Parallel Mode = "parallel"
)

// ParseMode parses a signing mode. The empty string means Sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Parallel:
		return Parallel, nil
	default:
		return "", fmt.Errorf("%w: unknown signing mode %q", ErrInvalidRequest, s)
	}
}

// State is the lifecycle state derived from a session's counters.
type State int

const (
	NotStarted State = iota
	PartiallySigned
	Sealed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case PartiallySigned:
		return "partially_signed"
	case Sealed:
		return "sealed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a snapshot of a signing session.
type Session struct {
	Identity     Identity
	TotalSigners int
	Completed    int
	Mode         Mode
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State returns the lifecycle state of the snapshot.
func (s Session) State() State {
	switch {
	case s.Completed <= 0:
		return NotStarted
	case s.Completed >= s.TotalSigners:
		return Sealed
	default:
		return PartiallySigned
	}
}

// Progress formats the session as "completed/total".
func (s Session) Progress() string {
	return fmt.Sprintf("%d/%d", s.Completed, s.TotalSigners)
}

// Allocator hands out signer positions.
//
// Implementations must be linearizable per identity: concurrent callers
// for the same identity receive distinct, densely increasing positions.
type Allocator interface {
	// Allocate returns the next free position of the session for identity,
	// creating the session with totalSigners and mode when it does not
	// exist yet.
	Allocate(ctx context.Context, identity Identity, totalSigners int, mode Mode) (Position, Session, error)

	// Release rolls back the allocation of position. It succeeds only when
	// position is still the most recent allocation.
	Release(ctx context.Context, identity Identity, position Position) error

	// Session returns a snapshot of the session for identity.
	Session(ctx context.Context, identity Identity) (Session, error)
}

func validate(identity Identity, totalSigners int, mode Mode) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", ErrInvalidRequest)
	}
	if totalSigners < 1 {
		return fmt.Errorf("%w: total signers must be positive, got %d", ErrInvalidRequest, totalSigners)
	}
	if mode != Sequential && mode != Parallel {
		return fmt.Errorf("%w: unknown signing mode %q", ErrInvalidRequest, mode)
	}
	return nil
}

// signedSuffix matches the suffix added to uploaded intermediate documents.
var signedSuffix = regexp.MustCompile(`(_signed_\d{8}_\d{6})+$`)

// IdentityFromFilename derives the document identity from a file name. The
// directory, the .pdf extension and any _signed_YYYYmmdd_HHMMSS suffix are
// removed so re-uploaded intermediates map back to the original document.
func IdentityFromFilename(name string) Identity {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	if ext := path.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = name[:len(name)-len(ext)]
	}
	return Identity(signedSuffix.ReplaceAllString(name, ""))
}
