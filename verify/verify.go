package verify

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

var oidTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}

// Verify lists the signature fields of the PDF in data and validates every
// signature they carry.
func Verify(data []byte, options VerifyOptions) (apiResp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			apiResp = nil
			err = &ValidationError{Msg: fmt.Sprintf("failed to verify document (%v)", r)}
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("failed to open document: %v", err)}
	}

	apiResp = &Response{Revisions: countRevisions(data)}
	parseDocumentInfo(rdr.Trailer().Key("Info"), &apiResp.DocumentInfo)
	apiResp.DocumentInfo.Pages = rdr.NumPage()

	roots := options.Roots
	if roots == nil {
		if roots, err = x509.SystemCertPool(); err != nil {
			roots = x509.NewCertPool()
		}
	}

	list := rdr.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	for i := 0; i < list.Len(); i++ {
		field := list.Index(i)
		if field.Key("FT").Name() != "Sig" {
			continue
		}

		name := field.Key("T").Text()
		v := field.Key("V")
		signed := v.Kind() == pdf.Dict
		apiResp.Fields = append(apiResp.Fields, FieldInfo{Name: name, Signed: signed})
		if !signed {
			continue
		}

		apiResp.Signatures = append(apiResp.Signatures, verifySignature(data, name, v, roots, options.AllowUntrustedRoots))
	}

	if len(apiResp.Fields) == 0 {
		return apiResp, ErrNoSignatureFields
	}
	return apiResp, nil
}

func verifySignature(data []byte, field string, v pdf.Value, roots *x509.CertPool, allowUntrusted bool) Signature {
	sig := Signature{
		Info: SignatureInfo{
			Field:       field,
			Name:        v.Key("Name").Text(),
			Reason:      v.Key("Reason").Text(),
			Location:    v.Key("Location").Text(),
			ContactInfo: v.Key("ContactInfo").Text(),
		},
	}
	if t, err := parseDate(v.Key("M").Text()); err == nil {
		sig.Info.SignatureTime = &t
	}

	br := v.Key("ByteRange")
	if br.Len() != 4 {
		sig.Validation.Error = "ByteRange must hold two ranges"
		return sig
	}

	// (Required) The signature value. When ByteRange is present, the value
	// shall be a hexadecimal string representing the value of the byte
	// range digest.
	p7, err := pkcs7.Parse([]byte(v.Key("Contents").RawString()))
	if err != nil {
		sig.Validation.Error = fmt.Sprintf("failed to parse signature: %v", err)
		return sig
	}

	// Read the byte ranges from the raw file; their concatenation is the
	// signed content.
	var end int64
	for i := 0; i < br.Len(); i += 2 {
		offset, length := br.Index(i).Int64(), br.Index(i+1).Int64()
		if offset < 0 || length < 0 || offset+length > int64(len(data)) {
			sig.Validation.Error = fmt.Sprintf("ByteRange [%d %d] outside the document", offset, length)
			return sig
		}
		sig.Info.ByteRange = append(sig.Info.ByteRange, offset, length)
		p7.Content = append(p7.Content, data[offset:offset+length]...)
		end = offset + length
	}
	sig.Validation.CoversWholeDocument = end == int64(len(data))

	for _, s := range p7.Signers {
		for _, attr := range s.UnauthenticatedAttributes {
			if !attr.Type.Equal(oidTimeStampToken) {
				continue
			}
			if ts, err := timestamp.Parse(attr.Value.Bytes); err == nil {
				sig.Info.TimeStamp = ts
			}
		}
	}

	if err := p7.Verify(); err != nil {
		sig.Validation.Error = (&InvalidSignatureError{Field: field, Msg: err.Error()}).Error()
		return sig
	}
	sig.Validation.ValidSignature = true

	pool := roots
	if allowUntrusted {
		pool = roots.Clone()
		for _, cert := range p7.Certificates {
			pool.AddCert(cert)
		}
	}
	if err := p7.VerifyWithChain(pool); err == nil {
		sig.Validation.TrustedIssuer = true
	}

	intermediates := x509.NewCertPool()
	for _, cert := range p7.Certificates {
		intermediates.AddCert(cert)
	}
	for _, cert := range p7.Certificates {
		c := Certificate{Certificate: cert}
		verifyAt := time.Now()
		if sig.Info.SignatureTime != nil {
			verifyAt = *sig.Info.SignatureTime
		}
		if _, err := cert.Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
			CurrentTime:   verifyAt,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			c.VerifyError = err.Error()
		}
		sig.Validation.Certificates = append(sig.Validation.Certificates, c)
	}

	return sig
}
