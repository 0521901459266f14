package pdfcosign

import (
	"crypto"
	"time"

	"github.com/digitorus/pdfcosign/integrity"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/sign"
	"github.com/digitorus/pdfcosign/upload"
)

// Submission is one signer's request to sign a document.
type Submission struct {
	// Identity groups the signers of one document. When empty it is derived
	// from OriginalFilename.
	Identity         session.Identity
	OriginalFilename string

	TotalSigners int
	Mode         session.Mode

	// Document is the PDF to stamp: the original in parallel mode, the
	// previous signer's output in sequential mode.
	Document []byte

	// StampImage is the signer's pre-rasterized stamp (PNG, JPEG, GIF, BMP,
	// TIFF or WebP).
	StampImage []byte

	SignerName     string
	SignerEmail    string
	JobTitle       string
	RequestorEmail string

	// SignedAt defaults to the current time.
	SignedAt time.Time
}

// StampRecord describes the stamp a submission placed. It is immutable once
// created.
type StampRecord struct {
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

// Result is the outcome of a successful submission.
type Result struct {
	Artifact []byte

	// Sealed reports whether this submission applied the final digital
	// signature.
	Sealed bool

	VerificationCode string
	ContentHash      integrity.Digest
	Position         session.Position
	Session          session.Session
	Stamp            StampRecord

	// RevisionOffsets lists where each revision appended by this submission
	// ends, in order.
	RevisionOffsets []int64

	// Filename is the name the artifact is delivered under.
	Filename string

	// RecordID is set when the result was persisted.
	RecordID string

	// Upload is set when the artifact was uploaded.
	Upload *upload.Result
}

// SealSettings are the signature dictionary entries used when sealing.
type SealSettings struct {
	Reason      string
	Location    string
	ContactInfo string

	// DigestAlgorithm defaults to SHA-256.
	DigestAlgorithm crypto.Hash

	TSA sign.TSA
}
