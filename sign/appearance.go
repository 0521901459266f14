package sign

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"image"

	"github.com/digitorus/pdfcosign/placement"
	"github.com/digitorus/pdfcosign/stamp"
)

// registerImage writes img as a DeviceRGB image XObject, with a soft mask
// when it is not fully opaque.
func (context *revisionContext) registerImage(img *image.NRGBA, opaque bool) (uint32, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var rgbBuf, alphaBuf bytes.Buffer
	zlibRgb := zlib.NewWriter(&rgbBuf)
	zlibAlpha := zlib.NewWriter(&alphaBuf)

	row := make([]byte, 0, width*3)
	alpha := make([]byte, 0, width)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row, alpha = row[:0], alpha[:0]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			row = append(row, c.R, c.G, c.B)
			alpha = append(alpha, c.A)
		}
		if _, err := zlibRgb.Write(row); err != nil {
			return 0, err
		}
		if _, err := zlibAlpha.Write(alpha); err != nil {
			return 0, err
		}
	}
	if err := zlibRgb.Close(); err != nil {
		return 0, err
	}
	if err := zlibAlpha.Close(); err != nil {
		return 0, err
	}

	var smaskID uint32
	if !opaque {
		var smask bytes.Buffer
		fmt.Fprintf(&smask, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n",
			width, height, alphaBuf.Len())
		smask.Write(alphaBuf.Bytes())
		smask.WriteString("\nendstream")

		var err error
		if smaskID, err = context.addObject(smask.Bytes()); err != nil {
			return 0, fmt.Errorf("failed to add soft mask: %w", err)
		}
	}

	var objBuf bytes.Buffer
	objBuf.WriteString("<< /Type /XObject /Subtype /Image")
	fmt.Fprintf(&objBuf, " /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8", width, height)
	if smaskID != 0 {
		fmt.Fprintf(&objBuf, " /SMask %d 0 R", smaskID)
	}
	fmt.Fprintf(&objBuf, " /Filter /FlateDecode /Length %d >>\nstream\n", rgbBuf.Len())
	objBuf.Write(rgbBuf.Bytes())
	objBuf.WriteString("\nendstream")

	return context.addObject(objBuf.Bytes())
}

// registerFont writes a standard Type 1 font using WinAnsiEncoding.
func (context *revisionContext) registerFont(baseFont string) (uint32, error) {
	if baseFont == "" {
		baseFont = "Helvetica"
	}
	return context.addObject([]byte(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont %s /Encoding /WinAnsiEncoding >>", pdfName(baseFont))))
}

// createStampXObject writes the composite of the stamp image and its
// caption as a form XObject. The image occupies the bottom of the form, the
// caption lines are stacked above it.
func (context *revisionContext) createStampXObject(s *stamp.Stamp) (uint32, error) {
	imageID, err := context.registerImage(s.Image, s.Opaque)
	if err != nil {
		return 0, err
	}

	var stream bytes.Buffer
	fmt.Fprintf(&stream, "q %d 0 0 %d 0 0 cm /Im1 Do Q\n", placement.StampWidth, placement.StampHeight)

	var fontID uint32
	if len(s.Lines) > 0 {
		if fontID, err = context.registerFont(s.FontName); err != nil {
			return 0, err
		}

		baseline := float64(placement.StampHeight) + s.Gap + float64(len(s.Lines)-1)*s.Leading
		stream.WriteString("BT\n0 g\n")
		fmt.Fprintf(&stream, "/F1 %s Tf\n", formatNumber(s.FontSize))
		fmt.Fprintf(&stream, "%s TL\n", formatNumber(s.Leading))
		fmt.Fprintf(&stream, "0 %s Td\n", formatNumber(baseline))
		for i, line := range s.Lines {
			if i > 0 {
				stream.WriteString("T*\n")
			}
			fmt.Fprintf(&stream, "<%s> Tj\n", hex.EncodeToString(stamp.EncodeWinAnsi(line)))
		}
		stream.WriteString("ET\n")
	}

	var form bytes.Buffer
	form.WriteString("<< /Type /XObject /Subtype /Form")
	fmt.Fprintf(&form, " /BBox [0 0 %s %s]", formatNumber(s.Width()), formatNumber(s.Height()))
	form.WriteString(" /Resources << /XObject << /Im1 " + reference(imageID) + " >>")
	if fontID != 0 {
		form.WriteString(" /Font << /F1 " + reference(fontID) + " >>")
	}
	form.WriteString(" >>")
	fmt.Fprintf(&form, " /Length %d >>\nstream\n", stream.Len())
	form.Write(stream.Bytes())
	form.WriteString("endstream")

	return context.addObject(form.Bytes())
}

// addContentStream writes an uncompressed page content stream.
func (context *revisionContext) addContentStream(content string) (uint32, error) {
	return context.addObject([]byte(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)))
}
