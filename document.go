// Package pdfcosign signs a PDF document by several parties in turn.
//
// Every signer submits the document together with a stamp image. The engine
// allocates the signer's position in the signing order, places a visual
// stamp and a signature field for that position in an incremental update,
// and, once the last signer has submitted, seals the document with a
// detached PKCS#7 signature covering every revision.
//
// Basic usage:
//
//	engine, err := pdfcosign.New(session.NewMemory(), keys.Files{
//	    CertificateFile: "cert.pem",
//	    KeyFile:         "key.pem",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.SubmitSignature(ctx, pdfcosign.Submission{
//	    OriginalFilename: "contract.pdf",
//	    TotalSigners:     2,
//	    Mode:             session.Sequential,
//	    Document:         pdfBytes,
//	    StampImage:       pngBytes,
//	    SignerName:       "Jane Doe",
//	})
package pdfcosign

import (
	"fmt"

	"github.com/digitorus/pdfcosign/fields"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/sign"
)

// checkSequence verifies that a sequential submission carries the fields of
// every earlier signer and none for the allocated position or later.
func checkSequence(doc *sign.Document, mode session.Mode, position session.Position) error {
	if mode != session.Sequential {
		return nil
	}
	reg := doc.Fields()
	for p := 0; p < int(position); p++ {
		if _, ok := reg.Lookup(p); !ok {
			return fmt.Errorf("%w: %s is missing for position %d", ErrStaleDocument, fields.Name(p), position)
		}
	}
	if f, ok := reg.Lookup(int(position)); ok && f.Signed {
		return fmt.Errorf("%w: %s is already signed", ErrCorruptDocumentStructure, f.Name)
	}
	return nil
}
