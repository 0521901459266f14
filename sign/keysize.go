package sign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/digitorus/pkcs7"
)

var (
	ErrNilSigner      = errors.New("signer cannot be nil")
	ErrNilCertificate = errors.New("certificate cannot be nil")
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrKeyMismatch    = errors.New("signer public key does not match certificate")
)

// DefaultSignatureSize is the fallback for unrecognized key types.
const DefaultSignatureSize = 8192

// estimatedTimestampSize is reserved for a timestamp token. Different TSA
// servers return different sizes; a larger token triggers a retry.
const estimatedTimestampSize = 9000

// PublicKeySignatureSize returns the maximum signature size for a public key.
// Certificate.SignatureAlgorithm is how the CA signed the certificate and
// says nothing about signatures made with this key.
func PublicKeySignatureSize(pub crypto.PublicKey) (int, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key has nil modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil

	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key has nil curve", ErrUnsupportedKey)
		}
		// SEQUENCE { r INTEGER, s INTEGER }, RFC 3279 Section 2.2.3.
		coordSize := (k.Curve.Params().BitSize + 7) / 8
		return 2*coordSize + 9, nil

	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil

	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// ValidateSignerCertificateMatch checks that the signer's public key matches the certificate.
func ValidateSignerCertificateMatch(signer crypto.Signer, cert *x509.Certificate) error {
	if signer == nil {
		return ErrNilSigner
	}
	if cert == nil {
		return ErrNilCertificate
	}

	signerPubBytes, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return fmt.Errorf("failed to marshal signer public key: %w", err)
	}
	certPubBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate public key: %w", err)
	}
	if !bytes.Equal(signerPubBytes, certPubBytes) {
		return ErrKeyMismatch
	}
	return nil
}

// estimateSignatureLength returns the number of hex characters to reserve
// for the PKCS#7 signature made with key.
func estimateSignatureLength(key KeyMaterial, digest crypto.Hash, withTimestamp bool) (int, error) {
	// Base size for the CMS structure itself.
	length := hex.EncodedLen(512)

	sigSize, err := PublicKeySignatureSize(key.Signer.Public())
	if err != nil {
		sigSize = DefaultSignatureSize
	}
	length += hex.EncodedLen(sigSize)

	// Add size of digest algorithm twice (for file digest and signing certificate attribute)
	length += hex.EncodedLen(digest.Size() * 2)

	degenerated, err := pkcs7.DegenerateCertificate(key.Certificate.Raw)
	if err != nil {
		return 0, fmt.Errorf("failed to degenerate certificate: %w", err)
	}
	length += hex.EncodedLen(len(degenerated))

	// Add size of the raw issuer which is added by AddSignerChain
	length += hex.EncodedLen(len(key.Certificate.RawIssuer))

	for _, cert := range key.Chain {
		degenerated, err := pkcs7.DegenerateCertificate(cert.Raw)
		if err != nil {
			return 0, fmt.Errorf("failed to degenerate certificate in chain: %w", err)
		}
		length += hex.EncodedLen(len(degenerated))
	}

	if withTimestamp {
		length += hex.EncodedLen(estimatedTimestampSize)
	}
	return length, nil
}
