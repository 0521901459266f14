// Package testpdf builds small, well-formed PDF files for tests.
package testpdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
)

// Field is a pre-existing AcroForm field.
type Field struct {
	Name string
	// FT is the field type name, for example "Sig" or "Tx". Defaults to
	// "Sig".
	FT string
}

// Options describes the document to generate.
type Options struct {
	Pages         int
	Width, Height float64

	// XrefStream writes a cross-reference stream instead of a classic table.
	XrefStream bool

	// InheritMediaBox puts the MediaBox on the page tree root instead of on
	// every page.
	InheritMediaBox bool

	Fields []Field
}

type object struct {
	id   int
	body string
}

// New returns the bytes of a PDF built from opts.
func New(opts Options) []byte {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.Width == 0 && opts.Height == 0 {
		opts.Width, opts.Height = 612, 792
	}

	// 1: catalog, 2: pages, 3: font, then per page: page, content.
	var objs []object
	nextID := 4
	var kids []string
	box := fmt.Sprintf("[0 0 %s %s]", num(opts.Width), num(opts.Height))

	for i := 0; i < opts.Pages; i++ {
		pageID, contentID := nextID, nextID+1
		nextID += 2
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))

		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R", contentID)
		if !opts.InheritMediaBox {
			page += " /MediaBox " + box
		}
		page += " >>"
		objs = append(objs, object{pageID, page})

		content := fmt.Sprintf("BT /F1 18 Tf 72 %s Td (Page %d) Tj ET", num(opts.Height-72), i+1)
		objs = append(objs, object{contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)})
	}

	var fieldRefs []string
	for _, f := range opts.Fields {
		ft := f.FT
		if ft == "" {
			ft = "Sig"
		}
		objs = append(objs, object{nextID, fmt.Sprintf("<< /FT /%s /T (%s) /Type /Annot /Subtype /Widget /Rect [0 0 0 0] /F 132 >>", ft, f.Name)})
		fieldRefs = append(fieldRefs, fmt.Sprintf("%d 0 R", nextID))
		nextID++
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if len(fieldRefs) > 0 {
		catalog += " /AcroForm << /Fields [" + join(fieldRefs) + "] >>"
	}
	catalog += " >>"

	pages := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d", join(kids), opts.Pages)
	if opts.InheritMediaBox {
		pages += " /MediaBox " + box
	}
	pages += " >>"

	objs = append([]object{
		{1, catalog},
		{2, pages},
		{3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"},
	}, objs...)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, nextID)
	for _, o := range objs {
		offsets[o.id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", o.id, o.body)
	}

	if opts.XrefStream {
		writeXrefStream(&buf, offsets, nextID)
		return buf.Bytes()
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", nextID)
	buf.WriteString("0000000000 65535 f \n")
	for id := 1; id < nextID; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /ID [<%s><%s>] >>\n", nextID, documentID, documentID)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes()
}

const documentID = "31c7a8a269e4c59bc3cd7df0dabbf388"

func writeXrefStream(buf *bytes.Buffer, offsets []int, xrefID int) {
	xrefStart := buf.Len()
	size := xrefID + 1

	var data bytes.Buffer
	row := make([]byte, 7)
	for id := 0; id < size; id++ {
		switch {
		case id == 0:
			row[0] = 0
			binary.BigEndian.PutUint32(row[1:5], 0)
			binary.BigEndian.PutUint16(row[5:7], 65535)
		case id == xrefID:
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(xrefStart))
			binary.BigEndian.PutUint16(row[5:7], 0)
		default:
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(offsets[id]))
			binary.BigEndian.PutUint16(row[5:7], 0)
		}
		data.Write(row)
	}

	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /ID [<%s><%s>] /Length %d >>\nstream\n",
		xrefID, size, documentID, documentID, data.Len())
	buf.Write(data.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefStart)
}

// PNG returns a w x h PNG image with a simple gradient, suitable as a stamp.
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func join(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
