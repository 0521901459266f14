package sign

import (
	"bytes"
	"context"
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const signatureByteRangePlaceholder = "/ByteRange[0 ********** ********** **********]"

const defaultTSATimeout = 30 * time.Second

var (
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	oidTimeStampToken       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

func (s *sealer) createSignaturePlaceholder() []byte {
	// Using a buffer because it's way faster than concatenating.
	var signature_buffer bytes.Buffer
	signature_buffer.WriteString("<< /Type /Sig")
	signature_buffer.WriteString(" /Filter /Adobe.PPKLite")
	signature_buffer.WriteString(" /SubFilter /adbe.pkcs7.detached")

	// Create a placeholder for the byte range string, we will replace it later.
	signature_buffer.WriteString(" " + signatureByteRangePlaceholder)

	// Create a placeholder for the actual signature content, we wil replace it later.
	signature_buffer.WriteString(" /Contents<")
	signature_buffer.Write(bytes.Repeat([]byte("0"), s.signatureMaxLength))
	signature_buffer.WriteString(">")

	if s.opts.Name != "" {
		signature_buffer.WriteString(" /Name ")
		signature_buffer.WriteString(pdfString(s.opts.Name))
	}
	if s.opts.Location != "" {
		signature_buffer.WriteString(" /Location ")
		signature_buffer.WriteString(pdfString(s.opts.Location))
	}
	if s.opts.Reason != "" {
		signature_buffer.WriteString(" /Reason ")
		signature_buffer.WriteString(pdfString(s.opts.Reason))
	}
	if s.opts.ContactInfo != "" {
		signature_buffer.WriteString(" /ContactInfo ")
		signature_buffer.WriteString(pdfString(s.opts.ContactInfo))
	}
	signature_buffer.WriteString(" /M ")
	signature_buffer.WriteString(pdfDateTime(s.opts.Date))
	signature_buffer.WriteString(" >>")

	return signature_buffer.Bytes()
}

func (s *sealer) createSigningCertificateAttribute() (*pkcs7.Attribute, error) {
	hash := s.digest.New()
	hash.Write(s.key.Certificate.Raw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // []ESSCertID, []ESSCertIDv2
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertID, ESSCertIDv2
				if s.digest != crypto.SHA1 && s.digest != crypto.SHA256 { // default SHA-256
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // AlgorithmIdentifier
						b.AddASN1ObjectIdentifier(getOIDFromHashAlgorithm(s.digest))
					})
				}
				b.AddASN1OctetString(hash.Sum(nil)) // certHash
			})
		})
	})

	sse, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	signingCertificate := pkcs7.Attribute{
		Type:  oidSigningCertificateV2,
		Value: asn1.RawValue{FullBytes: sse},
	}
	if s.digest == crypto.SHA1 {
		signingCertificate.Type = oidSigningCertificate
	}
	return &signingCertificate, nil
}

// createSignature returns the detached PKCS#7 signature over the two
// byte ranges of file_content.
func (s *sealer) createSignature(ctx context.Context, file_content []byte, byteRange [4]int64) ([]byte, error) {
	sign_content := make([]byte, 0, byteRange[1]+byteRange[3])
	sign_content = append(sign_content, file_content[byteRange[0]:byteRange[0]+byteRange[1]]...)
	sign_content = append(sign_content, file_content[byteRange[2]:byteRange[2]+byteRange[3]]...)

	signed_data, err := pkcs7.NewSignedData(sign_content)
	if err != nil {
		return nil, fmt.Errorf("%w: new signed data: %v", ErrSigningKey, err)
	}
	signed_data.SetDigestAlgorithm(getOIDFromHashAlgorithm(s.digest))

	signingCertificate, err := s.createSigningCertificateAttribute()
	if err != nil {
		return nil, fmt.Errorf("%w: signing certificate attribute: %v", ErrSigningKey, err)
	}

	signer_config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{*signingCertificate},
	}

	// Add the signer and sign the data.
	if err := signed_data.AddSignerChain(s.key.Certificate, s.key.Signer, s.key.Chain, signer_config); err != nil {
		return nil, fmt.Errorf("%w: add signer chain: %v", ErrSigningKey, err)
	}

	// PDF needs a detached signature, meaning the content isn't included.
	signed_data.Detach()

	if s.opts.TSA.URL != "" {
		signature_data := signed_data.GetSignedData()

		timestamp_response, err := s.GetTSA(ctx, signature_data.SignerInfos[0].EncryptedDigest)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTimestamp, err)
		}

		ts, err := timestamp.ParseResponse(timestamp_response)
		if err != nil {
			return nil, fmt.Errorf("%w: parse response: %v", ErrTimestamp, err)
		}

		if _, err := pkcs7.Parse(ts.RawToken); err != nil {
			return nil, fmt.Errorf("%w: parse token: %v", ErrTimestamp, err)
		}

		timestamp_attribute := pkcs7.Attribute{
			Type:  oidTimeStampToken,
			Value: asn1.RawValue{FullBytes: ts.RawToken},
		}
		if err := signature_data.SignerInfos[0].SetUnauthenticatedAttributes([]pkcs7.Attribute{timestamp_attribute}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimestamp, err)
		}
	}

	return signed_data.Finish()
}

// GetTSA requests a timestamp token for sign_content from the configured
// timestamp authority.
func (s *sealer) GetTSA(ctx context.Context, sign_content []byte) (timestamp_response []byte, err error) {
	ts_request, err := timestamp.CreateRequest(bytes.NewReader(sign_content), &timestamp.RequestOptions{
		Certificates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.TSA.URL, bytes.NewReader(ts_request))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request (%s): %w", s.opts.TSA.URL, err)
	}

	req.Header.Add("Content-Type", "application/timestamp-query")
	req.Header.Add("Content-Transfer-Encoding", "binary")

	if s.opts.TSA.Username != "" && s.opts.TSA.Password != "" {
		req.SetBasicAuth(s.opts.TSA.Username, s.opts.TSA.Password)
	}

	timeout := s.opts.TSA.Timeout
	if timeout <= 0 {
		timeout = defaultTSATimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timestamp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.New("non success response (" + strconv.Itoa(resp.StatusCode) + "): " + string(body))
	}

	timestamp_response_body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return timestamp_response_body, nil
}
