package pdfcosign

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/digitorus/pdfcosign/fields"
	"github.com/digitorus/pdfcosign/integrity"
	"github.com/digitorus/pdfcosign/placement"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/sign"
	"github.com/digitorus/pdfcosign/stamp"
	"github.com/digitorus/pdfcosign/store"
	"github.com/digitorus/pdfcosign/upload"
)

// newVerificationCode returns the first 10 hex characters of a random UUID.
func newVerificationCode() string {
	u := uuid.New()
	return hex.EncodeToString(u[:5])
}

// SubmitSignature stamps the submitted document for the next signer of its
// session and, when that signer is the last one, seals it.
//
// Failures before an artifact exists are returned as *SubmissionError and
// leave the session unchanged. Failures delivering the artifact to the
// store or uploader are returned as *DeliveryError carrying the result.
func (e *Engine) SubmitSignature(ctx context.Context, sub Submission) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSubmit(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "pdfcosign.SubmitSignature")
	defer span.End()

	res, err := e.submit(ctx, &sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var se *SubmissionError
		if errors.As(err, &se) {
			e.metrics.IncrementOutcome(string(se.Stage) + "_failed")
		} else {
			e.metrics.IncrementOutcome("delivery_failed")
		}
		return res, err
	}

	outcome := "stamped"
	if res.Sealed {
		outcome = "sealed"
		e.metrics.IncrementSeals()
	}
	e.metrics.IncrementOutcome(outcome)
	e.metrics.ObserveArtifactSize(len(res.Artifact))
	return res, nil
}

func (e *Engine) submit(ctx context.Context, sub *Submission) (*Result, error) {
	if err := e.runStage(ctx, StageValidate, func(context.Context) error {
		return e.normalize(sub)
	}); err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("identity", string(sub.Identity)))

	// Everything the caller can get wrong is checked before a position is
	// taken, so a rejected submission never leaves a hole in the sequence.
	in, err := e.prepare(ctx, sub)
	if err != nil {
		log.Warn("submission rejected", zap.Error(err))
		return nil, err
	}

	var (
		position session.Position
		snapshot session.Session
	)
	if err := e.runStage(ctx, StageAllocate, func(ctx context.Context) (err error) {
		position, snapshot, err = e.allocator.Allocate(ctx, sub.Identity, sub.TotalSigners, sub.Mode)
		return err
	}); err != nil {
		log.Warn("allocation rejected", zap.Error(err))
		return nil, err
	}
	// The session's mode wins over the one the signer asked for.
	if snapshot.Mode != "" {
		sub.Mode = snapshot.Mode
	}
	log = log.With(zap.Int("position", int(position)), zap.Int("total_signers", sub.TotalSigners))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("pdfcosign.identity", string(sub.Identity)),
		attribute.Int("pdfcosign.position", int(position)),
		attribute.Int("pdfcosign.total_signers", sub.TotalSigners),
	)

	res, err := e.build(ctx, sub, in, position, snapshot, log)
	if err != nil {
		// The artifact was never produced; hand the position back.
		if rerr := e.allocator.Release(context.WithoutCancel(ctx), sub.Identity, position); rerr != nil {
			log.Error("failed to release position", zap.Error(rerr))
			var se *SubmissionError
			if errors.As(err, &se) {
				se.Err = errors.Join(se.Err, rerr)
			} else {
				err = errors.Join(err, rerr)
			}
		}
		log.Warn("submission failed", zap.Error(err))
		return nil, err
	}

	log.Info("document signed",
		zap.Bool("sealed", res.Sealed),
		zap.String("content_hash", res.ContentHash.String()),
		zap.String("verification_code", res.VerificationCode),
		zap.Int("size", len(res.Artifact)),
	)

	if err := e.deliver(ctx, sub, res, log); err != nil {
		return res, err
	}
	return res, nil
}

// normalize fills defaults and rejects incomplete submissions.
func (e *Engine) normalize(sub *Submission) error {
	if sub.Identity == "" {
		sub.Identity = session.IdentityFromFilename(sub.OriginalFilename)
	}
	if sub.Identity == "" {
		return fmt.Errorf("%w: identity or original filename is required", ErrInvalidSubmission)
	}
	if sub.TotalSigners < 1 {
		return fmt.Errorf("%w: total signers must be positive", ErrInvalidSubmission)
	}
	mode, err := session.ParseMode(string(sub.Mode))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	sub.Mode = mode
	if len(sub.Document) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidSubmission)
	}
	if len(sub.StampImage) == 0 {
		return fmt.Errorf("%w: empty stamp image", ErrInvalidSubmission)
	}
	if sub.SignerName == "" {
		return fmt.Errorf("%w: signer name is required", ErrInvalidSubmission)
	}
	if sub.SignedAt.IsZero() {
		sub.SignedAt = e.now()
	}
	return nil
}

// prepared holds the position independent work of a submission.
type prepared struct {
	doc   *sign.Document
	stamp *stamp.Stamp
	code  string
}

// prepare decodes the document and renders the stamp. In sequential mode
// the document is also checked against the position the session would hand
// out next; the check is repeated once the position is allocated.
func (e *Engine) prepare(ctx context.Context, sub *Submission) (*prepared, error) {
	in := &prepared{code: e.newCode()}

	if err := e.runStage(ctx, StageOpen, func(ctx context.Context) (err error) {
		if in.doc, err = sign.Open(sub.Document); err != nil {
			return err
		}
		if _, err := placement.Place(0, in.doc.LastPage()); err != nil {
			return err
		}
		next, mode, ok, err := e.nextPosition(ctx, sub)
		if err != nil || !ok {
			return err
		}
		return checkSequence(in.doc, mode, next)
	}); err != nil {
		return nil, err
	}

	if err := e.runStage(ctx, StageStamp, func(context.Context) (err error) {
		in.stamp, err = e.renderer.Render(sub.StampImage, stamp.Caption{
			JobTitle:         sub.JobTitle,
			SignerName:       sub.SignerName,
			Time:             sub.SignedAt,
			VerificationCode: in.code,
		})
		return err
	}); err != nil {
		return nil, err
	}
	return in, nil
}

// nextPosition reports the position the session for sub would allocate
// next and the mode it runs in. ok is false when allocation is going to be
// rejected anyway, which is left for the allocator to report.
func (e *Engine) nextPosition(ctx context.Context, sub *Submission) (session.Position, session.Mode, bool, error) {
	s, err := e.allocator.Session(ctx, sub.Identity)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return 0, sub.Mode, true, nil
	case err != nil:
		return 0, "", false, err
	case s.TotalSigners != sub.TotalSigners || s.Completed >= s.TotalSigners:
		return 0, "", false, nil
	}
	mode := s.Mode
	if mode == "" {
		mode = sub.Mode
	}
	return session.Position(s.Completed), mode, true, nil
}

// build produces the artifact for position. It holds the identity's lock so
// revisions for one document are never built concurrently.
func (e *Engine) build(ctx context.Context, sub *Submission, in *prepared, position session.Position, snapshot session.Session, log *zap.Logger) (*Result, error) {
	unlock, err := e.locks.Lock(ctx, string(sub.Identity))
	if err != nil {
		return nil, &SubmissionError{Stage: StageAllocate, Err: err}
	}
	defer unlock()

	doc := in.doc
	if err := e.runStage(ctx, StageOpen, func(context.Context) error {
		return checkSequence(doc, sub.Mode, position)
	}); err != nil {
		return nil, err
	}

	var pl placement.Placement
	if err := e.runStage(ctx, StagePlace, func(context.Context) (err error) {
		pl, err = placement.Place(int(position), doc.LastPage())
		return err
	}); err != nil {
		return nil, err
	}

	var rev *sign.Revision
	if err := e.runStage(ctx, StageRevision, func(context.Context) (err error) {
		rev, err = sign.ApplyRevision(doc, sign.RevisionInput{
			Position:  int(position),
			Stamp:     in.stamp,
			Placement: pl,
		})
		return err
	}); err != nil {
		return nil, err
	}
	log.Debug("stamp revision appended",
		zap.Int("page", rev.PageIndex),
		zap.Bool("new_page", rev.NewPage),
		zap.Int64("offset", rev.Offset),
	)

	res := &Result{
		Artifact:         rev.Bytes,
		VerificationCode: in.code,
		Position:         position,
		Session:          snapshot,
		RevisionOffsets:  []int64{int64(len(rev.Bytes))},
		Stamp: StampRecord{
			Position:         int(position),
			SignerName:       sub.SignerName,
			SignerEmail:      sub.SignerEmail,
			JobTitle:         sub.JobTitle,
			SignedAt:         sub.SignedAt,
			VerificationCode: in.code,
			Rect:             rev.Rect,
			PageIndex:        rev.PageIndex,
			FieldName:        rev.Field.Name,
		},
	}

	if int(position)+1 == sub.TotalSigners {
		if err := e.runStage(ctx, StageSeal, func(ctx context.Context) error {
			return e.sealArtifact(ctx, sub, res)
		}); err != nil {
			return nil, err
		}
		res.Sealed = true
		res.RevisionOffsets = append(res.RevisionOffsets, int64(len(res.Artifact)))
	}

	if err := e.runStage(ctx, StageIntegrity, func(context.Context) error {
		res.ContentHash = integrity.Hash(res.Artifact)
		return nil
	}); err != nil {
		return nil, err
	}

	base := sub.OriginalFilename
	if base == "" {
		base = string(sub.Identity)
	}
	res.Filename = upload.Filename(base, sub.SignedAt)
	return res, nil
}

// sealArtifact appends the final signature revision to res.Artifact.
func (e *Engine) sealArtifact(ctx context.Context, sub *Submission, res *Result) error {
	material, err := e.keys.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningKey, err)
	}

	doc, err := sign.Open(res.Artifact)
	if err != nil {
		return fmt.Errorf("%w: stamped document does not reopen: %v", ErrCorruptDocumentStructure, err)
	}

	contact := e.seal.ContactInfo
	if contact == "" {
		contact = sub.SignerEmail
	}
	sealed, err := sign.Seal(ctx, doc, fields.Name(int(res.Position)), sign.KeyMaterial{
		Signer:      material.Signer,
		Certificate: material.Certificate,
		Chain:       material.Chain,
	}, sign.SealOptions{
		Name:            sub.SignerName,
		Reason:          e.seal.Reason,
		Location:        e.seal.Location,
		ContactInfo:     contact,
		Date:            sub.SignedAt,
		DigestAlgorithm: e.seal.DigestAlgorithm,
		TSA:             e.seal.TSA,
	})
	if err != nil {
		return err
	}
	res.Artifact = sealed.Bytes
	return nil
}

// deliver uploads and persists a produced result.
func (e *Engine) deliver(ctx context.Context, sub *Submission, res *Result, log *zap.Logger) error {
	if e.uploader != nil {
		ctx, span := e.tracer.Start(ctx, "pdfcosign.upload")
		up, err := e.uploader.Upload(ctx, upload.Request{
			Name:     res.Filename,
			Data:     res.Artifact,
			SignedBy: sub.SignerEmail,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			log.Error("upload failed", zap.String("filename", res.Filename), zap.Error(err))
			return &DeliveryError{Collaborator: "upload", Result: res, Err: err}
		}
		span.End()
		res.Upload = up
		log.Info("document uploaded", zap.String("filename", res.Filename), zap.String("item_id", up.ItemID))
	}

	if e.store != nil {
		ctx, span := e.tracer.Start(ctx, "pdfcosign.store")
		defer span.End()

		rec := &store.Record{
			Identity:         string(sub.Identity),
			FileName:         res.Filename,
			Sealed:           res.Sealed,
			OriginalFilename: sub.OriginalFilename,
			Stamp:            store.Stamp(res.Stamp),
			ContentHash:      res.ContentHash.String(),
			TotalSigners:     sub.TotalSigners,
			SigningMode:      string(sub.Mode),
			RequestorEmail:   sub.RequestorEmail,
			Artifact:         res.Artifact,
		}
		if res.Upload != nil {
			rec.FileID = res.Upload.ItemID
			rec.WebURL = res.Upload.WebURL
			rec.DownloadURL = res.Upload.DownloadURL
		}
		if err := e.store.Save(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("failed to persist record", zap.Error(err))
			return &DeliveryError{Collaborator: "store", Result: res, Err: err}
		}
		res.RecordID = rec.ID
		log.Debug("record persisted", zap.String("record_id", rec.ID))
	}
	return nil
}

// runStage runs one pipeline stage inside a span and wraps its error.
func (e *Engine) runStage(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "pdfcosign."+string(stage))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	e.metrics.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &SubmissionError{Stage: stage, Err: err}
	}
	span.SetAttributes(attribute.String("pdfcosign.stage", string(stage)))
	return nil
}
