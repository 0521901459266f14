package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"

	"github.com/digitorus/pdfcosign/fields"
	"github.com/digitorus/pdfcosign/placement"
)

// maxPageTreeDepth bounds the page tree walk for documents with cyclic Kids.
const maxPageTreeDepth = 64

// Open parses data and indexes the objects a revision needs to touch. The
// returned document keeps a reference to data, which must not be modified.
func Open(data []byte) (doc *Document, err error) {
	defer recoverMalformed(&err)

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\f\r "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrDecode)
	}

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	trailer := rdr.Trailer()
	if !trailer.Key("Encrypt").IsNull() {
		return nil, fmt.Errorf("%w: encrypted documents are not supported", ErrCorruptDocumentStructure)
	}
	if trailer.Key("Size").Int64() <= 0 {
		return nil, fmt.Errorf("%w: trailer has no /Size", ErrCorruptDocumentStructure)
	}

	root := trailer.Key("Root")
	if root.Kind() != pdf.Dict || root.GetPtr().GetID() == 0 {
		return nil, fmt.Errorf("%w: missing document catalog", ErrCorruptDocumentStructure)
	}
	pages := root.Key("Pages")
	if pages.Kind() != pdf.Dict || pages.GetPtr().GetID() == 0 {
		return nil, fmt.Errorf("%w: missing page tree", ErrCorruptDocumentStructure)
	}

	d := &Document{
		data:    data,
		reader:  rdr,
		rootID:  root.GetPtr().GetID(),
		rootGen: root.GetPtr().GetGen(),
		pagesID: pages.GetPtr().GetID(),
	}

	if err := d.collectPages(pages, inherited{}, map[uint32]bool{}, 0); err != nil {
		return nil, err
	}
	if len(d.pages) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrCorruptDocumentStructure)
	}

	d.fields, err = fields.Load(rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocumentStructure, err)
	}

	return d, nil
}

// inherited holds the page attributes that may be set on a Pages node.
type inherited struct {
	mediaBox  pdf.Value
	resources pdf.Value
}

func (d *Document) collectPages(node pdf.Value, attrs inherited, visited map[uint32]bool, depth int) error {
	if depth > maxPageTreeDepth {
		return fmt.Errorf("%w: page tree too deep", ErrCorruptDocumentStructure)
	}
	id := node.GetPtr().GetID()
	if id != 0 {
		if visited[id] {
			return fmt.Errorf("%w: page tree cycle at object %d", ErrCorruptDocumentStructure, id)
		}
		visited[id] = true
	}

	if mb := node.Key("MediaBox"); !mb.IsNull() {
		attrs.mediaBox = mb
	}
	if res := node.Key("Resources"); !res.IsNull() {
		attrs.resources = res
	}

	kids := node.Key("Kids")
	if node.Key("Type").Name() == "Pages" || (kids.Kind() == pdf.Array && node.Key("Type").Name() != "Page") {
		for i := 0; i < kids.Len(); i++ {
			kid := kids.Index(i)
			if kid.Kind() != pdf.Dict {
				continue
			}
			if err := d.collectPages(kid, attrs, visited, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if id == 0 {
		return fmt.Errorf("%w: page is not an indirect object", ErrCorruptDocumentStructure)
	}
	box, err := rectFromArray(attrs.mediaBox)
	if err != nil {
		return fmt.Errorf("%w: page object %d: %v", ErrCorruptDocumentStructure, id, err)
	}
	d.pages = append(d.pages, pageInfo{
		value:     node,
		id:        id,
		gen:       node.GetPtr().GetGen(),
		mediaBox:  box,
		resources: attrs.resources,
	})
	return nil
}

func rectFromArray(v pdf.Value) (placement.Rect, error) {
	if v.Kind() != pdf.Array || v.Len() != 4 {
		return placement.Rect{}, fmt.Errorf("invalid MediaBox")
	}
	var c [4]float64
	for i := range c {
		c[i] = v.Index(i).Float64()
	}
	llx, lly := min(c[0], c[2]), min(c[1], c[3])
	return placement.Rect{
		X:      llx,
		Y:      lly,
		Width:  max(c[0], c[2]) - llx,
		Height: max(c[1], c[3]) - lly,
	}, nil
}

// NumPages returns the number of pages.
func (d *Document) NumPages() int {
	return len(d.pages)
}

// LastPage returns the MediaBox of the final page.
func (d *Document) LastPage() placement.Rect {
	return d.pages[len(d.pages)-1].mediaBox
}

// Fields returns the signature field registry of the document.
func (d *Document) Fields() *fields.Registry {
	return d.fields
}

// Len returns the size of the document in bytes.
func (d *Document) Len() int64 {
	return int64(len(d.data))
}

// Bytes returns the document bytes.
func (d *Document) Bytes() []byte {
	return d.data
}

// fieldValue finds the field dictionary with the given object ID among the
// AcroForm fields.
func (d *Document) fieldValue(id uint32) (pdf.Value, bool) {
	list := d.reader.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	for i := 0; i < list.Len(); i++ {
		f := list.Index(i)
		if f.GetPtr().GetID() == id {
			return f, true
		}
	}
	return pdf.Value{}, false
}

// stampPage returns the index of the page that receives a stamp with the
// given page offset, or -1 when that overflow page does not exist yet and
// has to be appended. A page is identified by the widgets of the signer
// fields placed on it; fields not yet written are ignored. Stamps of the original last page go to the final
// page while the document has no overflow page for a later offset.
func (d *Document) stampPage(offset int) int {
	overflow := 0
	for _, f := range d.fields.Fields() {
		if f.PageID == 0 {
			continue
		}
		fo := f.Position / placement.PerPage
		if fo == offset {
			for i, p := range d.pages {
				if p.id == f.PageID {
					return i
				}
			}
		}
		overflow = max(overflow, fo)
	}
	if offset > overflow {
		return -1
	}
	return len(d.pages) - 1
}
