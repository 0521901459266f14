package verify

import (
	"crypto/x509"
	"time"

	"github.com/digitorus/timestamp"
)

// VerifyOptions contains options for signature verification.
type VerifyOptions struct {
	// Roots holds the trusted root certificates. When nil the system pool
	// is used.
	Roots *x509.CertPool

	// AllowUntrustedRoots when true, allows using certificates embedded in the PDF as trusted roots
	// WARNING: This makes signatures appear valid even if they're self-signed or from untrusted CAs
	AllowUntrustedRoots bool
}

// FieldInfo describes one signature field of the document.
type FieldInfo struct {
	Name   string `json:"name"`
	Signed bool   `json:"signed"`
}

// SignatureInfo contains information about the signer and signature
// (not related to validation)
type SignatureInfo struct {
	Field         string               `json:"field"`
	Name          string               `json:"name"`
	Reason        string               `json:"reason"`
	Location      string               `json:"location"`
	ContactInfo   string               `json:"contact_info"`
	SignatureTime *time.Time           `json:"signature_time,omitempty"`
	TimeStamp     *timestamp.Timestamp `json:"time_stamp,omitempty"`
	ByteRange     []int64              `json:"byte_range"`
}

// SignatureValidation contains validation results and technical details
// (not about the signer's intent)
type SignatureValidation struct {
	ValidSignature bool `json:"valid_signature"`
	TrustedIssuer  bool `json:"trusted_issuer"`

	// CoversWholeDocument reports whether the signed byte ranges reach the
	// end of the file, so no revision was appended after signing.
	CoversWholeDocument bool          `json:"covers_whole_document"`
	Certificates        []Certificate `json:"certificates"`
	Error               string        `json:"error,omitempty"`
}

type Signature struct {
	Info       SignatureInfo       `json:"info"`
	Validation SignatureValidation `json:"validation"`
}

type Response struct {
	DocumentInfo DocumentInfo `json:"document_info"`
	Fields       []FieldInfo  `json:"fields"`
	Signatures   []Signature  `json:"signatures"`

	// Revisions is the number of incremental revisions including the
	// original document.
	Revisions int `json:"revisions"`
}

type Certificate struct {
	Certificate *x509.Certificate `json:"certificate"`
	VerifyError string            `json:"verify_error,omitempty"`
}

// DocumentInfo contains document information.
type DocumentInfo struct {
	Author   string `json:"author"`
	Creator  string `json:"creator"`
	Producer string `json:"producer"`
	Subject  string `json:"subject"`
	Title    string `json:"title"`

	Pages        int       `json:"pages"`
	Keywords     []string  `json:"keywords"`
	ModDate      time.Time `json:"mod_date"`
	CreationDate time.Time `json:"creation_date"`
}
