// Package keys loads the signing key and certificate chain used to seal
// documents.
//
// Key material is configured out of band. Providers never log or persist
// what they load.
package keys

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrNotConfigured    = errors.New("no key material configured")
)

// Material is a signing key together with its certificate chain.
type Material struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate

	// Chain holds the intermediate certificates, closest to the leaf first.
	Chain []*x509.Certificate
}

// Provider returns the key material used to seal documents.
type Provider interface {
	Load(ctx context.Context) (Material, error)
}

// Static serves key material held in memory.
type Static Material

func (s Static) Load(ctx context.Context) (Material, error) {
	if s.Signer == nil || s.Certificate == nil {
		return Material{}, ErrNotConfigured
	}
	return Material(s), nil
}

// Files loads a PEM or DER encoded certificate and private key from disk.
// The certificate file may carry the chain after the leaf certificate.
type Files struct {
	CertificateFile string
	KeyFile         string

	// ChainFiles are additional files with intermediate certificates.
	ChainFiles []string

	// Passphrase decrypts legacy encrypted PEM keys.
	Passphrase []byte
}

func (f Files) Load(ctx context.Context) (Material, error) {
	if f.CertificateFile == "" || f.KeyFile == "" {
		return Material{}, ErrNotConfigured
	}

	certs, err := LoadCertsFromPemDer(f.CertificateFile)
	if err != nil {
		return Material{}, err
	}
	for _, name := range f.ChainFiles {
		chain, err := LoadCertsFromPemDer(name)
		if err != nil {
			return Material{}, err
		}
		certs = append(certs, chain...)
	}

	data, err := os.ReadFile(f.KeyFile)
	if err != nil {
		return Material{}, fmt.Errorf("failed to read file %s: %w", f.KeyFile, err)
	}
	key, err := LoadPrivateKeyFromPemDerData(data, f.Passphrase)
	if err != nil {
		return Material{}, err
	}
	return assemble(key, certs), nil
}

// PKCS12 loads key material from a PKCS#12 (.p12, .pfx) bundle.
type PKCS12 struct {
	File     string
	Password string
}

func (p PKCS12) Load(ctx context.Context) (Material, error) {
	if p.File == "" {
		return Material{}, ErrNotConfigured
	}
	data, err := os.ReadFile(p.File)
	if err != nil {
		return Material{}, fmt.Errorf("failed to read file %s: %w", p.File, err)
	}
	return LoadPKCS12Data(data, p.Password)
}

// LoadPKCS12Data decodes a PKCS#12 bundle.
func LoadPKCS12Data(data []byte, password string) (Material, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return Material{}, fmt.Errorf("failed to decode P12: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return Material{}, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
	return Material{Signer: signer, Certificate: cert, Chain: caCerts}, nil
}

// assemble picks the certificate matching key as the leaf and keeps the
// others, in file order, as the chain.
func assemble(key crypto.Signer, certs []*x509.Certificate) Material {
	leaf := 0
	for i, c := range certs {
		if matches(key, c) {
			leaf = i
			break
		}
	}

	m := Material{Signer: key, Certificate: certs[leaf]}
	for i, c := range certs {
		if i != leaf {
			m.Chain = append(m.Chain, c)
		}
	}
	return m
}

func matches(key crypto.Signer, cert *x509.Certificate) bool {
	want, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return false
	}
	got, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded
// data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (crypto.Signer, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (crypto.Signer, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoKeyFound
		}
		if block.Type == "CERTIFICATE" {
			continue
		}

		keyBytes := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			if passphrase == nil {
				return nil, fmt.Errorf("%w: private key is encrypted but no passphrase provided", ErrDecryptionFailed)
			}
			var err error
			keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
			}
		}
		return parsePrivateKeyByType(block.Type, keyBytes)
	}
}

func loadPrivateKeyFromDER(data []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func parsePrivateKeyByType(blockType string, keyBytes []byte) (crypto.Signer, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

func toSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}
