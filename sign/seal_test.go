package sign

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digitorus/pdfcosign/internal/testpdf"
	"github.com/digitorus/pdfcosign/internal/testpki"
	"github.com/digitorus/pdfcosign/verify"
)

func sealOptions() SealOptions {
	return SealOptions{
		Name:        "Signer 2",
		Reason:      "Approved",
		Location:    "Paris",
		ContactInfo: "signer@example.com",
		Date:        time.Now(),
	}
}

func TestSeal(t *testing.T) {
	for _, xrefStream := range []bool{false, true} {
		t.Run(fmt.Sprintf("xrefStream=%v", xrefStream), func(st *testing.T) {
			pki := testpki.NewTestPKI(st)
			signer, cert := pki.IssueLeaf("Signer 2")

			data := testpdf.New(testpdf.Options{XrefStream: xrefStream})
			data = applyPosition(st, data, 0).Bytes
			data = applyPosition(st, data, 1).Bytes

			doc, err := Open(data)
			if err != nil {
				st.Fatal(err)
			}
			rev, err := Seal(context.Background(), doc, "Signature2", KeyMaterial{
				Signer:      signer,
				Certificate: cert,
				Chain:       pki.Intermediates(),
			}, sealOptions())
			if err != nil {
				st.Fatalf("Seal() error: %v", err)
			}
			if !bytes.HasPrefix(rev.Bytes, data) {
				st.Fatal("seal modified earlier revisions")
			}
			if !rev.Field.Signed || rev.Field.Name != "Signature2" {
				st.Errorf("Field = %+v", rev.Field)
			}

			resp, err := verify.Verify(rev.Bytes, verify.VerifyOptions{Roots: pki.Pool()})
			if err != nil {
				st.Fatalf("Verify() error: %v", err)
			}
			if len(resp.Fields) != 2 {
				st.Fatalf("got %d signature fields, want 2", len(resp.Fields))
			}
			if resp.Fields[0].Signed || !resp.Fields[1].Signed {
				st.Errorf("only the last field should be signed: %+v", resp.Fields)
			}
			if len(resp.Signatures) != 1 {
				st.Fatalf("got %d signatures, want 1", len(resp.Signatures))
			}

			sig := resp.Signatures[0]
			if !sig.Validation.ValidSignature {
				st.Errorf("signature is not valid: %s", sig.Validation.Error)
			}
			if !sig.Validation.TrustedIssuer {
				st.Error("signature should chain to the test root")
			}
			if !sig.Validation.CoversWholeDocument {
				st.Errorf("ByteRange %v does not cover the document of %d bytes", sig.Info.ByteRange, len(rev.Bytes))
			}
			if sig.Info.Name != "Signer 2" || sig.Info.Reason != "Approved" || sig.Info.Location != "Paris" {
				st.Errorf("unexpected signature info %+v", sig.Info)
			}
			if resp.Revisions != 4 {
				st.Errorf("Revisions = %d, want 4", resp.Revisions)
			}

			// The original document and both stamp revisions are covered.
			if sig.Info.ByteRange[0] != 0 || sig.Info.ByteRange[1] <= int64(len(data)) {
				st.Errorf("ByteRange %v does not include prior revisions", sig.Info.ByteRange)
			}
		})
	}
}

func TestSealRSA(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048, IntermediateCAs: 1})
	key, cert := pki.IssueLeaf("RSA Sealing")

	data := applyPosition(t, testpdf.New(testpdf.Options{}), 0).Bytes
	doc, err := Open(data)
	if err != nil {
		t.Fatal(err)
	}

	opts := sealOptions()
	opts.Name = "Jöhn Døe"
	opts.DigestAlgorithm = crypto.SHA512
	rev, err := Seal(context.Background(), doc, "Signature1", KeyMaterial{Signer: key, Certificate: cert, Chain: pki.Intermediates()}, opts)
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	resp, err := verify.Verify(rev.Bytes, verify.VerifyOptions{Roots: pki.Pool()})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Signatures) != 1 || !resp.Signatures[0].Validation.ValidSignature {
		t.Fatalf("unexpected verification result %+v", resp.Signatures)
	}
	if got := resp.Signatures[0].Info.Name; got != "Jöhn Døe" {
		t.Errorf("Name = %q", got)
	}
}

func TestSealTamperDetected(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("Signer")

	doc, err := Open(applyPosition(t, testpdf.New(testpdf.Options{}), 0).Bytes)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := Seal(context.Background(), doc, "Signature1", KeyMaterial{Signer: signer, Certificate: cert, Chain: pki.Intermediates()}, sealOptions())
	if err != nil {
		t.Fatal(err)
	}

	tampered := bytes.Replace(rev.Bytes, []byte("(Page 1)"), []byte("(Page 9)"), 1)
	if bytes.Equal(tampered, rev.Bytes) {
		t.Fatal("test document does not contain the expected text")
	}
	resp, err := verify.Verify(tampered, verify.VerifyOptions{Roots: pki.Pool()})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Signatures[0].Validation.ValidSignature {
		t.Error("signature over modified content must not verify")
	}
}

func TestSealErrors(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("Signer")
	otherSigner, _ := pki.IssueLeaf("Other")

	data := applyPosition(t, testpdf.New(testpdf.Options{}), 0).Bytes

	tests := []struct {
		name  string
		field string
		key   KeyMaterial
		want  error
	}{
		{"key mismatch", "Signature1", KeyMaterial{Signer: otherSigner, Certificate: cert}, ErrSigningKey},
		{"missing signer", "Signature1", KeyMaterial{Certificate: cert}, ErrSigningKey},
		{"missing certificate", "Signature1", KeyMaterial{Signer: signer}, ErrSigningKey},
		{"unknown field", "Signature7", KeyMaterial{Signer: signer, Certificate: cert}, ErrCorruptDocumentStructure},
		{"invalid field name", "Approval", KeyMaterial{Signer: signer, Certificate: cert}, ErrCorruptDocumentStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(st *testing.T) {
			doc, err := Open(data)
			if err != nil {
				st.Fatal(err)
			}
			_, err = Seal(context.Background(), doc, tt.field, tt.key, sealOptions())
			if !errors.Is(err, tt.want) {
				st.Errorf("Seal() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSealTwice(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("Signer")
	key := KeyMaterial{Signer: signer, Certificate: cert}

	doc, err := Open(applyPosition(t, testpdf.New(testpdf.Options{}), 0).Bytes)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := Seal(context.Background(), doc, "Signature1", key, sealOptions())
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := Open(rev.Bytes)
	if err != nil {
		t.Fatalf("sealed document does not open: %v", err)
	}
	if f, _ := sealed.Fields().Lookup(0); !f.Signed {
		t.Error("field should be reported as signed after sealing")
	}
	if _, err := Seal(context.Background(), sealed, "Signature1", key, sealOptions()); !errors.Is(err, ErrCorruptDocumentStructure) {
		t.Errorf("second Seal() error = %v, want ErrCorruptDocumentStructure", err)
	}
}

func TestSealTimestampAuthorityFailure(t *testing.T) {
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/timestamp-query" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer tsa.Close()

	pki := testpki.NewTestPKI(t)
	signer, cert := pki.IssueLeaf("Signer")

	doc, err := Open(applyPosition(t, testpdf.New(testpdf.Options{}), 0).Bytes)
	if err != nil {
		t.Fatal(err)
	}
	opts := sealOptions()
	opts.TSA = TSA{URL: tsa.URL, Timeout: 5 * time.Second}

	if _, err := Seal(context.Background(), doc, "Signature1", KeyMaterial{Signer: signer, Certificate: cert}, opts); !errors.Is(err, ErrTimestamp) {
		t.Errorf("Seal() error = %v, want ErrTimestamp", err)
	}
}

func TestSealErrorKinds(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{errors.New("xref offset overflow"), ErrCorruptDocumentStructure},
		{fmt.Errorf("%w: rsa key too small", ErrSigningKey), ErrSigningKey},
		{fmt.Errorf("%w: 503", ErrTimestamp), ErrTimestamp},
		{context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		if got := sealError(tt.in); !errors.Is(got, tt.want) {
			t.Errorf("sealError(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := sealError(ErrSigningKey); errors.Is(got, ErrCorruptDocumentStructure) {
		t.Errorf("sealError(%v) = %v, key errors must keep their kind", ErrSigningKey, got)
	}
}
