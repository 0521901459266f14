package sign

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pdfcosign/fields"
)

// maxSealAttempts bounds the retries after an undersized placeholder.
const maxSealAttempts = 3

type sealer struct {
	doc    *Document
	field  fields.Field
	key    KeyMaterial
	opts   SealOptions
	digest crypto.Hash

	signatureMaxLength int
}

// Seal appends a revision that signs the field named fieldName with a
// detached PKCS#7 signature covering the whole document, including all
// prior revisions.
func Seal(ctx context.Context, doc *Document, fieldName string, key KeyMaterial, opts SealOptions) (rev *Revision, err error) {
	defer recoverMalformed(&err)

	if err := ValidateSignerCertificateMatch(key.Signer, key.Certificate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}

	digest := opts.DigestAlgorithm
	if digest == 0 {
		digest = crypto.SHA256
	}
	if getOIDFromHashAlgorithm(digest) == nil || !digest.Available() {
		return nil, fmt.Errorf("%w: unsupported digest algorithm %v", ErrSigningKey, digest)
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}

	pos, ok := fields.PositionOf(fieldName)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a signer field name", ErrCorruptDocumentStructure, fieldName)
	}
	field, ok := doc.fields.Lookup(pos)
	if !ok || field.ObjectID == 0 {
		return nil, fmt.Errorf("%w: field %s not found", ErrCorruptDocumentStructure, fieldName)
	}
	if field.Signed {
		return nil, fmt.Errorf("%w: field %s is already signed", ErrCorruptDocumentStructure, fieldName)
	}

	s := &sealer{
		doc:    doc,
		field:  field,
		key:    key,
		opts:   opts,
		digest: digest,
	}
	s.signatureMaxLength, err = estimateSignatureLength(key, digest, opts.TSA.URL != "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}

	for attempt := 0; attempt < maxSealAttempts; attempt++ {
		rev, needed, err := s.sign(ctx)
		if err != nil {
			return nil, sealError(err)
		}
		if rev != nil {
			return rev, nil
		}
		// Grow the placeholder and try signing again.
		s.signatureMaxLength = needed + 64
	}
	return nil, fmt.Errorf("%w: %d bytes after %d attempts", ErrSignatureTooLarge, s.signatureMaxLength, maxSealAttempts)
}

// sealError makes sure a failure while writing the signature revision
// carries one of the package's error kinds.
func sealError(err error) error {
	switch {
	case errors.Is(err, ErrSigningKey),
		errors.Is(err, ErrTimestamp),
		errors.Is(err, ErrCorruptDocumentStructure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrCorruptDocumentStructure, err)
}

// sign writes the signature revision. When the signature turns out larger
// than the placeholder it returns a nil revision and the needed length.
func (s *sealer) sign(ctx context.Context) (*Revision, int, error) {
	context, err := s.doc.newRevision()
	if err != nil {
		return nil, 0, err
	}

	sigStart := int64(context.OutputBuffer.Buff.Len())
	sigID, err := context.addObject(s.createSignaturePlaceholder())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to add signature object: %w", err)
	}
	if err := context.setFieldValue(s.field, sigID); err != nil {
		return nil, 0, fmt.Errorf("failed to update field %s: %w", s.field.Name, err)
	}
	if err := context.writeXref(); err != nil {
		return nil, 0, err
	}

	file_content := context.OutputBuffer.Buff.Bytes()

	byteRangeStart, contentsStart, err := signatureOffsets(file_content, sigStart)
	if err != nil {
		return nil, 0, err
	}
	byteRange, err := updateByteRange(file_content, byteRangeStart, contentsStart, s.signatureMaxLength)
	if err != nil {
		return nil, 0, err
	}

	signature, err := s.createSignature(ctx, file_content, byteRange)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create signature: %w", err)
	}

	dst := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(dst, signature)
	if len(dst) > s.signatureMaxLength {
		return nil, len(dst), nil
	}

	// Skip the opening bracket, the remaining zeros are padding.
	copy(file_content[contentsStart+1:], dst)

	field := s.field
	field.Signed = true
	return &Revision{
		Bytes:  file_content,
		Offset: s.doc.Len(),
		Field:  field,
	}, 0, nil
}
