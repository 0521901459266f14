package verify

import "errors"

// ErrNoSignatureFields is returned when the document has no signature fields.
var ErrNoSignatureFields = errors.New("no signature fields in document")

// ValidationError represents a general validation error in the verification process.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// InvalidSignatureError indicates that the cryptographic signature verification failed.
type InvalidSignatureError struct {
	Field string
	Msg   string
}

func (e *InvalidSignatureError) Error() string {
	return e.Field + ": " + e.Msg
}
