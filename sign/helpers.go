package sign

import (
	"crypto"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// pdfString encodes text as a PDF text string. Non-ASCII text is written as
// UTF-16BE with a byte order mark, in hexadecimal form.
func pdfString(text string) string {
	if !isASCII(text) {
		enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
		res, _, err := transform.String(enc, text)
		if err == nil {
			return "<" + hex.EncodeToString([]byte(res)) + ">"
		}
	}

	// PDFDocEncoded
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, ")", "\\)")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, "\r", "\\r")
	return "(" + text + ")"
}

func pdfDateTime(date time.Time) string {
	_, offset := date.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	// Do some special formatting as the PDF timezone format isn't supported by Go.
	return pdfString(fmt.Sprintf("D:%s%s%02d'%02d'", date.Format("20060102150405"), sign, offset/3600, (offset%3600)/60))
}

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   asn1.ObjectIdentifier([]int{1, 3, 14, 3, 2, 26}),
	crypto.SHA256: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 1}),
	crypto.SHA384: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 2}),
	crypto.SHA512: asn1.ObjectIdentifier([]int{2, 16, 840, 1, 101, 3, 4, 2, 3}),
}

func getOIDFromHashAlgorithm(target crypto.Hash) asn1.ObjectIdentifier {
	return hashOIDs[target]
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > '\u007F' {
			return false
		}
	}
	return true
}

// recoverMalformed turns a panic of the PDF reader into an error. The reader
// panics with an error or a message on malformed input; runtime errors are
// bugs and keep propagating.
func recoverMalformed(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if re, ok := r.(runtime.Error); ok {
		panic(re)
	}
	*err = fmt.Errorf("%w: %v", ErrCorruptDocumentStructure, r)
}
