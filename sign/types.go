package sign

import (
	"crypto"
	"crypto/x509"
	"errors"
	"time"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"

	"github.com/digitorus/pdfcosign/fields"
	"github.com/digitorus/pdfcosign/placement"
	"github.com/digitorus/pdfcosign/stamp"
)

var (
	// ErrDecode is returned when the input cannot be parsed as a PDF.
	ErrDecode = errors.New("document cannot be decoded as a PDF")

	// ErrCorruptDocumentStructure is returned when the PDF parses but lacks
	// the objects needed for an incremental update.
	ErrCorruptDocumentStructure = errors.New("corrupt document structure")

	// ErrSigningKey is returned when the key material cannot produce a
	// signature.
	ErrSigningKey = errors.New("signing key unusable")

	// ErrTimestamp is returned when the timestamp authority does not
	// deliver a usable token.
	ErrTimestamp = errors.New("timestamp authority failed")

	// ErrSignatureTooLarge is returned when the signature keeps outgrowing
	// its placeholder.
	ErrSignatureTooLarge = errors.New("signature does not fit the reserved space")
)

// Document is a parsed PDF ready to receive an incremental revision.
type Document struct {
	data   []byte
	reader *pdf.Reader

	rootID  uint32
	rootGen uint16
	pagesID uint32
	pages   []pageInfo
	fields  *fields.Registry
}

type pageInfo struct {
	value     pdf.Value
	id        uint32
	gen       uint16
	mediaBox  placement.Rect
	resources pdf.Value
}

// RevisionInput is everything one signer contributes to a revision.
type RevisionInput struct {
	Position  int
	Stamp     *stamp.Stamp
	Placement placement.Placement
}

// Revision is the result of appending one incremental update.
type Revision struct {
	// Bytes is the complete document: the input followed by the update.
	Bytes []byte

	// Offset is the length of the input, where the update begins.
	Offset int64

	// Field is the signer's field as written into the document.
	Field fields.Field

	// PageIndex is the zero-based index of the page carrying the stamp.
	PageIndex int

	// NewPage reports whether an overflow page was appended.
	NewPage bool

	// Rect is the box covered by the stamp and its caption in PDF user
	// space. Zero for sealing revisions.
	Rect [4]float64
}

// KeyMaterial holds what is needed to produce the document signature.
type KeyMaterial struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate

	// Chain holds the intermediate certificates, excluding Certificate.
	Chain []*x509.Certificate
}

// TSA configures an RFC 3161 timestamp authority.
type TSA struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// SealOptions are the descriptive entries of the signature dictionary.
type SealOptions struct {
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Date        time.Time

	// DigestAlgorithm defaults to SHA-256.
	DigestAlgorithm crypto.Hash

	TSA TSA
}

type xrefEntry struct {
	ID         uint32
	Generation uint16
	Offset     int64
}

// revisionContext accumulates the objects of one incremental update.
type revisionContext struct {
	doc          *Document
	OutputBuffer *filebuffer.Buffer

	nextID             uint32
	newXrefEntries     []xrefEntry
	updatedXrefEntries []xrefEntry
	NewXrefStart       int64
}
