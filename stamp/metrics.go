package stamp

import (
	"golang.org/x/text/encoding/charmap"
)

// helveticaWidths holds the advance widths of Helvetica for the printable
// ASCII range, starting at the space character, in units of 1/1000 em.
var helveticaWidths = [...]int{
	278, 278, 355, 556, 556, 889, 667, 222, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	222, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

const defaultGlyphWidth = 556

// TextWidth approximates the width of s set in Helvetica at size points.
func TextWidth(s string, size float64) float64 {
	units := 0
	for _, r := range s {
		if r >= ' ' && int(r-' ') < len(helveticaWidths) {
			units += helveticaWidths[r-' ']
			continue
		}
		units += defaultGlyphWidth
	}
	return float64(units) * size / 1000
}

// EncodeWinAnsi converts s to the WinAnsiEncoding used by the standard Type 1
// fonts. Characters outside the code page become '?'.
func EncodeWinAnsi(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}
