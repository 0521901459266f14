package pdfcosign

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitorus/pdfcosign/integrity"
	"github.com/digitorus/pdfcosign/store"
	"github.com/digitorus/pdfcosign/verify"
)

// ErrNoStore is returned by lookups on an engine configured without a store.
var ErrNoStore = errors.New("no record store configured")

// Verify validates every signature in a produced artifact.
func Verify(data []byte, opts verify.VerifyOptions) (*verify.Response, error) {
	return verify.Verify(data, opts)
}

// Lookup returns the record of the submission that printed code on its
// stamp.
func (e *Engine) Lookup(ctx context.Context, code string) (*store.Record, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	ctx, span := e.tracer.Start(ctx, "pdfcosign.Lookup")
	defer span.End()

	return e.store.ByVerificationCode(ctx, code)
}

// VerifyArtifact checks that data is byte for byte the artifact recorded
// for code.
func (e *Engine) VerifyArtifact(ctx context.Context, code string, data []byte) (*store.Record, error) {
	rec, err := e.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := integrity.Verify(data, rec.ContentHash); err != nil {
		return rec, fmt.Errorf("artifact for %s: %w", code, err)
	}
	return rec, nil
}
