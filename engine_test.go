package pdfcosign_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/digitorus/pdfcosign"
	"github.com/digitorus/pdfcosign/fields"
	"github.com/digitorus/pdfcosign/integrity"
	"github.com/digitorus/pdfcosign/internal/metrics"
	"github.com/digitorus/pdfcosign/internal/testpdf"
	"github.com/digitorus/pdfcosign/internal/testpki"
	"github.com/digitorus/pdfcosign/keys"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/store"
	"github.com/digitorus/pdfcosign/upload"
	"github.com/digitorus/pdfcosign/verify"
)

var codePattern = regexp.MustCompile(`^[0-9a-f]{10}$`)

var signedAt = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

type fakeUploader struct {
	mu       sync.Mutex
	err      error
	requests []upload.Request
}

func (u *fakeUploader) Upload(ctx context.Context, req upload.Request) (*upload.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	u.requests = append(u.requests, req)
	n := len(u.requests)
	return &upload.Result{
		ItemID:      fmt.Sprintf("item-%d", n),
		WebURL:      fmt.Sprintf("https://example.test/web/%d", n),
		DownloadURL: fmt.Sprintf("https://example.test/download/%d", n),
	}, nil
}

type fixture struct {
	pki       *testpki.TestPKI
	allocator *session.MemoryAllocator
	engine    *pdfcosign.Engine
}

func newFixture(t *testing.T, opts ...pdfcosign.Option) *fixture {
	t.Helper()
	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("PDFCoSign Sealing")
	return newFixtureWithKeys(t, pki, keys.Static{
		Signer:      signer,
		Certificate: cert,
		Chain:       pki.Intermediates(),
	}, opts...)
}

func newFixtureWithKeys(t *testing.T, pki *testpki.TestPKI, kp keys.Provider, opts ...pdfcosign.Option) *fixture {
	t.Helper()
	allocator := session.NewMemory()
	engine, err := pdfcosign.New(allocator, kp, opts...)
	require.NoError(t, err)
	return &fixture{pki: pki, allocator: allocator, engine: engine}
}

func submission(doc []byte, signer string, total int) pdfcosign.Submission {
	return pdfcosign.Submission{
		OriginalFilename: "contract.pdf",
		TotalSigners:     total,
		Mode:             session.Sequential,
		Document:         doc,
		StampImage:       testpdf.PNG(300, 172),
		SignerName:       signer,
		SignerEmail:      "signer@example.com",
		JobTitle:         "Directeur",
		SignedAt:         signedAt,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := pdfcosign.New(nil, keys.Static{})
	assert.Error(t, err)

	_, err = pdfcosign.New(session.NewMemory(), nil)
	assert.Error(t, err)
}

func TestSequentialSigning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := testpdf.New(testpdf.Options{})

	first, err := f.engine.SubmitSignature(ctx, submission(original, "Alice", 2))
	require.NoError(t, err)
	assert.False(t, first.Sealed)
	assert.Equal(t, session.Position(0), first.Position)
	assert.Regexp(t, codePattern, first.VerificationCode)
	assert.Equal(t, first.VerificationCode, first.Stamp.VerificationCode)
	assert.Equal(t, "Signature1", first.Stamp.FieldName)
	assert.Equal(t, "contract_signed_20240309_140500.pdf", first.Filename)
	assert.Equal(t, integrity.Hash(first.Artifact), first.ContentHash)
	assert.Len(t, first.RevisionOffsets, 1)
	assert.Equal(t, original, first.Artifact[:len(original)])

	s, err := f.engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, session.PartiallySigned, s.State())

	// The second signer submits the first signer's output under its
	// delivered name; the identity still resolves to the same session.
	sub := submission(first.Artifact, "Bob", 2)
	sub.OriginalFilename = first.Filename
	second, err := f.engine.SubmitSignature(ctx, sub)
	require.NoError(t, err)
	assert.True(t, second.Sealed)
	assert.Equal(t, session.Position(1), second.Position)
	assert.Equal(t, "Signature2", second.Stamp.FieldName)
	assert.Len(t, second.RevisionOffsets, 2)
	assert.Equal(t, first.Artifact, second.Artifact[:len(first.Artifact)])
	assert.NotEqual(t, first.VerificationCode, second.VerificationCode)

	resp, err := pdfcosign.Verify(second.Artifact, verify.VerifyOptions{Roots: f.pki.Pool()})
	require.NoError(t, err)
	require.Len(t, resp.Fields, 2)
	assert.False(t, resp.Fields[0].Signed)
	assert.True(t, resp.Fields[1].Signed)
	require.Len(t, resp.Signatures, 1)
	assert.True(t, resp.Signatures[0].Validation.ValidSignature, resp.Signatures[0].Validation.Error)
	assert.True(t, resp.Signatures[0].Validation.CoversWholeDocument)

	s, err = f.engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, session.Sealed, s.State())
	assert.Equal(t, "2/2", s.Progress())

	_, err = f.engine.SubmitSignature(ctx, submission(second.Artifact, "Carol", 2))
	require.ErrorIs(t, err, pdfcosign.ErrSessionAlreadyComplete)
	var se *pdfcosign.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pdfcosign.StageAllocate, se.Stage)
}

func TestSingleSignerIsSealedImmediately(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.SubmitSignature(context.Background(), submission(testpdf.New(testpdf.Options{}), "Alice", 1))
	require.NoError(t, err)
	assert.True(t, res.Sealed)

	resp, err := verify.Verify(res.Artifact, verify.VerifyOptions{Roots: f.pki.Pool()})
	require.NoError(t, err)
	require.Len(t, resp.Signatures, 1)
	assert.True(t, resp.Signatures[0].Validation.ValidSignature)
}

func TestOverflowPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc := testpdf.New(testpdf.Options{})
	var last *pdfcosign.Result
	for i := 0; i < 6; i++ {
		res, err := f.engine.SubmitSignature(ctx, submission(doc, fmt.Sprintf("Signer %d", i+1), 6))
		require.NoError(t, err, "signer %d", i+1)
		assert.Equal(t, i/4, res.Stamp.PageIndex, "signer %d", i+1)
		doc, last = res.Artifact, res
	}
	assert.True(t, last.Sealed)
	assert.Equal(t, 173.0, last.Stamp.Rect[0])

	resp, err := verify.Verify(doc, verify.VerifyOptions{Roots: f.pki.Pool()})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DocumentInfo.Pages)
	assert.Len(t, resp.Fields, 6)
}

func TestParallelOverflowPage(t *testing.T) {
	const signers = 7
	ctx := context.Background()
	f := newFixture(t)
	original := testpdf.New(testpdf.Options{})

	byPosition := map[session.Position]*pdfcosign.Result{}
	for i := 0; i < signers; i++ {
		sub := submission(original, fmt.Sprintf("Signer %d", i+1), signers)
		sub.Mode = session.Parallel
		res, err := f.engine.SubmitSignature(ctx, sub)
		require.NoError(t, err)
		byPosition[res.Position] = res
	}

	for pos, res := range byPosition {
		want := 0
		if pos >= 4 {
			want = 1
		}
		assert.Equal(t, want, res.Stamp.PageIndex, "position %d", pos)

		resp, err := verify.Verify(res.Artifact, verify.VerifyOptions{Roots: f.pki.Pool()})
		if res.Sealed {
			require.NoError(t, err)
		}
		require.NotNil(t, resp)
		assert.Equal(t, want+1, resp.DocumentInfo.Pages, "position %d", pos)
	}
	// Same slot, different pages.
	assert.Equal(t, byPosition[1].Stamp.Rect, byPosition[5].Stamp.Rect)
	assert.NotEqual(t, byPosition[1].Stamp.PageIndex, byPosition[5].Stamp.PageIndex)
}

func TestStaleDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := testpdf.New(testpdf.Options{})

	first, err := f.engine.SubmitSignature(ctx, submission(original, "Alice", 3))
	require.NoError(t, err)

	// Bob was handed the original instead of Alice's output.
	_, err = f.engine.SubmitSignature(ctx, submission(original, "Bob", 3))
	require.ErrorIs(t, err, pdfcosign.ErrStaleDocument)
	var se *pdfcosign.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pdfcosign.StageOpen, se.Stage)

	s, err := f.engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed, "the rejected position must be released")

	second, err := f.engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 3))
	require.NoError(t, err)
	assert.Equal(t, session.Position(1), second.Position)
}

func TestParallelSigning(t *testing.T) {
	const signers = 4
	ctx := context.Background()
	f := newFixture(t)
	original := testpdf.New(testpdf.Options{})

	results := make([]*pdfcosign.Result, signers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < signers; i++ {
		g.Go(func() error {
			sub := submission(original, fmt.Sprintf("Signer %d", i+1), signers)
			sub.Mode = session.Parallel
			res, err := f.engine.SubmitSignature(gctx, sub)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	positions := map[session.Position]bool{}
	sealed := 0
	for _, res := range results {
		positions[res.Position] = true
		if res.Sealed {
			sealed++
			assert.Equal(t, session.Position(signers-1), res.Position)
		}
	}
	assert.Len(t, positions, signers)
	assert.Equal(t, 1, sealed)

	_, err := f.engine.SubmitSignature(ctx, submission(original, "Late", signers))
	assert.ErrorIs(t, err, pdfcosign.ErrSessionAlreadyComplete)
}

// interleavingAllocator runs after once, right after the next successful
// allocation, to let another signer take a position in between.
type interleavingAllocator struct {
	*session.MemoryAllocator

	mu    sync.Mutex
	calls int
	after func()
}

func (a *interleavingAllocator) Allocate(ctx context.Context, identity session.Identity, totalSigners int, mode session.Mode) (session.Position, session.Session, error) {
	pos, s, err := a.MemoryAllocator.Allocate(ctx, identity, totalSigners, mode)
	a.mu.Lock()
	a.calls++
	hook := a.after
	a.after = nil
	a.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return pos, s, err
}

func newInterleavingFixture(t *testing.T) (*interleavingAllocator, *pdfcosign.Engine) {
	t.Helper()
	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("PDFCoSign Sealing")
	alloc := &interleavingAllocator{MemoryAllocator: session.NewMemory()}
	engine, err := pdfcosign.New(alloc, keys.Static{Signer: signer, Certificate: cert, Chain: pki.Intermediates()})
	require.NoError(t, err)
	return alloc, engine
}

func TestRejectedSubmissionLeavesNoGap(t *testing.T) {
	ctx := context.Background()
	alloc, engine := newInterleavingFixture(t)
	original := testpdf.New(testpdf.Options{})
	alloc.after = func() {
		_, _, err := alloc.MemoryAllocator.Allocate(ctx, "contract", 3, session.Sequential)
		assert.NoError(t, err)
	}

	sub := submission(original, "Alice", 3)
	sub.StampImage = []byte("not an image")
	_, err := engine.SubmitSignature(ctx, sub)
	require.ErrorIs(t, err, pdfcosign.ErrUnsupportedImageFormat)
	assert.Zero(t, alloc.calls, "a rejected submission must not take a position")

	_, err = engine.Session(ctx, "contract")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	alloc.after = nil
	first, err := engine.SubmitSignature(ctx, submission(original, "Alice", 3))
	require.NoError(t, err)
	assert.Equal(t, session.Position(0), first.Position)

	second, err := engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 3))
	require.NoError(t, err)
	assert.Equal(t, session.Position(1), second.Position)
}

func TestStaleDocumentRejectedBeforeAllocation(t *testing.T) {
	ctx := context.Background()
	alloc, engine := newInterleavingFixture(t)
	original := testpdf.New(testpdf.Options{})

	first, err := engine.SubmitSignature(ctx, submission(original, "Alice", 3))
	require.NoError(t, err)

	_, err = engine.SubmitSignature(ctx, submission(original, "Bob", 3))
	require.ErrorIs(t, err, pdfcosign.ErrStaleDocument)
	assert.Equal(t, 1, alloc.calls)

	s, err := engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed)

	_, err = engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 3))
	require.NoError(t, err)
}

func TestReleaseRaceIsReported(t *testing.T) {
	ctx := context.Background()
	alloc, engine := newInterleavingFixture(t)
	alloc.after = func() {
		_, _, err := alloc.MemoryAllocator.Allocate(ctx, "contract", 2, session.Sequential)
		assert.NoError(t, err)
	}

	// The field name of position 0 is taken by a text field, which only
	// surfaces while the revision is built.
	doc := testpdf.New(testpdf.Options{Fields: []testpdf.Field{{Name: "Signature1", FT: "Tx"}}})
	_, err := engine.SubmitSignature(ctx, submission(doc, "Alice", 2))
	require.ErrorIs(t, err, fields.ErrNameConflict)
	assert.ErrorIs(t, err, pdfcosign.ErrSequenceRaceDetected)

	var se *pdfcosign.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pdfcosign.StageRevision, se.Stage)
}

func TestTotalSignersMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.engine.SubmitSignature(ctx, submission(testpdf.New(testpdf.Options{}), "Alice", 2))
	require.NoError(t, err)

	_, err = f.engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 3))
	assert.ErrorIs(t, err, pdfcosign.ErrTotalSignersMismatch)
}

func TestUnsupportedImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := submission(testpdf.New(testpdf.Options{}), "Alice", 2)
	sub.StampImage = []byte("definitely not an image")
	_, err := f.engine.SubmitSignature(ctx, sub)
	require.ErrorIs(t, err, pdfcosign.ErrUnsupportedImageFormat)

	var se *pdfcosign.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pdfcosign.StageStamp, se.Stage)

	_, err = f.engine.Session(ctx, "contract")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUndecodableDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitSignature(context.Background(), submission([]byte("%PDF-1.7\ngarbage"), "Alice", 1))
	assert.ErrorIs(t, err, pdfcosign.ErrDecode)

	_, err = f.engine.Session(context.Background(), "contract")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSigningKeyFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithKeys(t, nil, keys.Static{})

	first, err := f.engine.SubmitSignature(ctx, submission(testpdf.New(testpdf.Options{}), "Alice", 2))
	require.NoError(t, err, "stamping does not need key material")

	_, err = f.engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 2))
	require.ErrorIs(t, err, pdfcosign.ErrSigningKey)
	var se *pdfcosign.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pdfcosign.StageSeal, se.Stage)

	s, err := f.engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, session.PartiallySigned, s.State())
	assert.Equal(t, 1, s.Completed)
}

func TestInvalidSubmission(t *testing.T) {
	f := newFixture(t)
	doc := testpdf.New(testpdf.Options{})

	tests := []struct {
		name   string
		modify func(*pdfcosign.Submission)
	}{
		{"no identity", func(s *pdfcosign.Submission) { s.OriginalFilename = "" }},
		{"no signers", func(s *pdfcosign.Submission) { s.TotalSigners = 0 }},
		{"unknown mode", func(s *pdfcosign.Submission) { s.Mode = "random" }},
		{"empty document", func(s *pdfcosign.Submission) { s.Document = nil }},
		{"empty image", func(s *pdfcosign.Submission) { s.StampImage = nil }},
		{"no signer name", func(s *pdfcosign.Submission) { s.SignerName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := submission(doc, "Alice", 2)
			tt.modify(&sub)
			_, err := f.engine.SubmitSignature(context.Background(), sub)
			require.ErrorIs(t, err, pdfcosign.ErrInvalidSubmission)
			var se *pdfcosign.SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, pdfcosign.StageValidate, se.Stage)
		})
	}
	assert.Empty(t, f.allocator.Sessions())
}

func TestDeliveryAndLookup(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	st := store.NewMemory()
	f := newFixture(t, pdfcosign.WithUploader(up), pdfcosign.WithStore(st))

	sub := submission(testpdf.New(testpdf.Options{}), "Alice", 2)
	sub.RequestorEmail = "requestor@example.com"
	res, err := f.engine.SubmitSignature(ctx, sub)
	require.NoError(t, err)
	require.NotNil(t, res.Upload)
	assert.Equal(t, "item-1", res.Upload.ItemID)
	assert.NotEmpty(t, res.RecordID)

	require.Len(t, up.requests, 1)
	assert.Equal(t, res.Filename, up.requests[0].Name)
	assert.Equal(t, "signer@example.com", up.requests[0].SignedBy)

	rec, err := f.engine.Lookup(ctx, res.VerificationCode)
	require.NoError(t, err)
	assert.Equal(t, res.RecordID, rec.ID)
	assert.Equal(t, "contract", rec.Identity)
	assert.Equal(t, "item-1", rec.FileID)
	assert.Equal(t, "https://example.test/web/1", rec.WebURL)
	assert.Equal(t, "requestor@example.com", rec.RequestorEmail)
	assert.Equal(t, "sequential", rec.SigningMode)
	assert.Equal(t, int64(len(res.Artifact)), rec.FileSize)
	assert.True(t, rec.Signed)
	assert.False(t, rec.Sealed)
	assert.Equal(t, "Alice", rec.Stamp.SignerName)
	assert.Equal(t, res.Stamp.Rect, rec.Stamp.Rect)

	_, err = f.engine.VerifyArtifact(ctx, res.VerificationCode, res.Artifact)
	assert.NoError(t, err)

	tampered := append([]byte{}, res.Artifact...)
	tampered[len(tampered)/2] ^= 0xff
	_, err = f.engine.VerifyArtifact(ctx, res.VerificationCode, tampered)
	assert.ErrorIs(t, err, integrity.ErrMismatch)

	_, err = f.engine.Lookup(ctx, "0000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLookupWithoutStore(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Lookup(context.Background(), "a1b2c3d4e5")
	assert.ErrorIs(t, err, pdfcosign.ErrNoStore)
}

func TestUploadFailureKeepsPosition(t *testing.T) {
	ctx := context.Background()
	uploadErr := errors.New("service unavailable")
	st := store.NewMemory()
	f := newFixture(t, pdfcosign.WithUploader(&fakeUploader{err: uploadErr}), pdfcosign.WithStore(st))

	res, err := f.engine.SubmitSignature(ctx, submission(testpdf.New(testpdf.Options{}), "Alice", 2))
	require.ErrorIs(t, err, uploadErr)

	var de *pdfcosign.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "upload", de.Collaborator)
	require.NotNil(t, de.Result)
	assert.Same(t, res, de.Result)
	assert.NotEmpty(t, de.Result.Artifact)

	s, err := f.engine.Session(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed)

	_, err = st.ByVerificationCode(ctx, res.VerificationCode)
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing is persisted when the upload fails")
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, pdfcosign.WithMetrics(m))

	first, err := f.engine.SubmitSignature(ctx, submission(testpdf.New(testpdf.Options{}), "Alice", 2))
	require.NoError(t, err)
	_, err = f.engine.SubmitSignature(ctx, submission(first.Artifact, "Bob", 2))
	require.NoError(t, err)
	_, err = f.engine.SubmitSignature(ctx, submission(first.Artifact, "Carol", 2))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("stamped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("sealed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("allocate_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Seals))
}

func TestSubmissionDeadline(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.engine.SubmitSignature(ctx, submission(testpdf.New(testpdf.Options{}), "Alice", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.allocator.Sessions())
}
