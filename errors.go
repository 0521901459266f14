package pdfcosign

import (
	"errors"
	"fmt"

	"github.com/digitorus/pdfcosign/placement"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/sign"
	"github.com/digitorus/pdfcosign/stamp"
)

// Errors returned by SubmitSignature. All of them can be matched with
// errors.Is on the returned error.
var (
	ErrDecode                   = sign.ErrDecode
	ErrCorruptDocumentStructure = sign.ErrCorruptDocumentStructure
	ErrSigningKey               = sign.ErrSigningKey
	ErrTimestamp                = sign.ErrTimestamp
	ErrSignatureTooLarge        = sign.ErrSignatureTooLarge
	ErrInvalidPageGeometry      = placement.ErrInvalidPageGeometry
	ErrUnsupportedImageFormat   = stamp.ErrUnsupportedImageFormat
	ErrSessionAlreadyComplete   = session.ErrSessionAlreadyComplete
	ErrSequenceRaceDetected     = session.ErrSequenceRaceDetected
	ErrTotalSignersMismatch     = session.ErrTotalSignersMismatch

	// ErrStaleDocument is returned in sequential mode when the submitted
	// document lacks the stamps of the signers before the allocated
	// position.
	ErrStaleDocument = errors.New("document does not contain all previous signatures")

	// ErrInvalidSubmission is returned for submissions missing required
	// data.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Stage names a step of the submission pipeline.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageAllocate  Stage = "allocate"
	StageOpen      Stage = "open"
	StagePlace     Stage = "place"
	StageStamp     Stage = "stamp"
	StageRevision  Stage = "revision"
	StageSeal      Stage = "seal"
	StageIntegrity Stage = "integrity"
)

// SubmissionError is returned when a submission fails before an artifact
// was produced. The session is left as it was before the submission, unless
// Err also matches ErrSequenceRaceDetected: then the position could not be
// handed back because a later signer already holds the next one.
type SubmissionError struct {
	Stage Stage
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("signature submission failed at %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// DeliveryError is returned when the artifact was produced but handing it
// to a collaborator failed. Result holds the produced artifact; the
// allocated position stays consumed.
type DeliveryError struct {
	Collaborator string
	Result       *Result
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver signed document to %s: %v", e.Collaborator, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
