package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"

	"github.com/digitorus/pdfcosign/placement"
)

// pageStamp describes a stamp to draw on a page.
type pageStamp struct {
	name   string // resource name of the form XObject
	xobjID uint32
	llx    float64
	lly    float64
	annots []uint32
}

func (s pageStamp) drawOperators() string {
	return fmt.Sprintf("q 1 0 0 1 %s %s cm %s Do Q", formatNumber(s.llx), formatNumber(s.lly), pdfName(s.name))
}

// xobjectName returns a resource name based on base that is not yet used in
// the XObject resources of the page.
func xobjectName(resources pdf.Value, base string) string {
	existing := resources.Key("XObject")
	name := base
	for i := 2; !existing.Key(name).IsNull(); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}

// updatePage writes a new version of an existing page that draws the stamp
// on top of the original content. The original content is wrapped in q/Q so
// its graphics state cannot leak into the stamp.
func (context *revisionContext) updatePage(p pageInfo, s pageStamp) error {
	openID, err := context.addContentStream("q")
	if err != nil {
		return err
	}
	closeID, err := context.addContentStream("Q\n" + s.drawOperators())
	if err != nil {
		return err
	}

	var page bytes.Buffer
	page.WriteString("<<")
	if err := writeDictEntries(&page, p.id, p.value, 0, map[string]bool{"Contents": true, "Resources": true, "Annots": true}); err != nil {
		return err
	}

	page.WriteString(" /Resources ")
	if err := writeResources(&page, p.resources, s); err != nil {
		return err
	}

	page.WriteString(" /Contents [" + reference(openID))
	if err := writeArrayItems(&page, p.value.Key("Contents")); err != nil {
		return err
	}
	page.WriteString(" " + reference(closeID) + "]")

	if err := writeAnnots(&page, p.value.Key("Annots"), s.annots); err != nil {
		return err
	}
	page.WriteString(" >>")

	if err := context.updateObject(p.id, p.gen, page.Bytes()); err != nil {
		return fmt.Errorf("failed to update page %d: %w", p.id, err)
	}
	return nil
}

// appendPage writes a new blank page with the given MediaBox at id and adds
// it to the end of the page tree.
func (context *revisionContext) appendPage(id uint32, box placement.Rect, s pageStamp) error {
	contentID, err := context.addContentStream(s.drawOperators())
	if err != nil {
		return err
	}

	var page bytes.Buffer
	page.WriteString("<< /Type /Page")
	page.WriteString(" /Parent " + reference(context.doc.pagesID))
	fmt.Fprintf(&page, " /MediaBox [%s %s %s %s]", formatNumber(box.X), formatNumber(box.Y),
		formatNumber(box.X+box.Width), formatNumber(box.Y+box.Height))
	page.WriteString(" /Resources ")
	if err := writeResources(&page, pdf.Value{}, s); err != nil {
		return err
	}
	page.WriteString(" /Contents " + reference(contentID))
	if err := writeAnnots(&page, pdf.Value{}, s.annots); err != nil {
		return err
	}
	page.WriteString(" >>")

	if err := context.writeReserved(id, page.Bytes()); err != nil {
		return fmt.Errorf("failed to add page: %w", err)
	}
	return context.appendToPageTree(id)
}

// appendToPageTree adds the page to the Kids of the page tree root.
func (context *revisionContext) appendToPageTree(pageID uint32) error {
	pages := context.doc.reader.Trailer().Key("Root").Key("Pages")
	gen := pages.GetPtr().GetGen()

	var tree bytes.Buffer
	tree.WriteString("<<")
	if err := writeDictEntries(&tree, context.doc.pagesID, pages, 0, map[string]bool{"Kids": true, "Count": true}); err != nil {
		return err
	}
	tree.WriteString(" /Kids [")
	kids := pages.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		kid := kids.Index(i)
		writeReference(&tree, kid.GetPtr().GetID(), kid.GetPtr().GetGen())
		tree.WriteString(" ")
	}
	tree.WriteString(reference(pageID) + "]")
	fmt.Fprintf(&tree, " /Count %d", len(context.doc.pages)+1)
	tree.WriteString(" >>")

	if err := context.updateObject(context.doc.pagesID, gen, tree.Bytes()); err != nil {
		return fmt.Errorf("failed to update page tree: %w", err)
	}
	return nil
}

// writeResources writes a copy of resources with the stamp added to its
// XObject dictionary.
func writeResources(buf *bytes.Buffer, resources pdf.Value, s pageStamp) error {
	buf.WriteString("<<")
	if resources.Kind() == pdf.Dict {
		if err := writeDictEntries(buf, resources.GetPtr().GetID(), resources, 0, map[string]bool{"XObject": true}); err != nil {
			return err
		}
	}

	buf.WriteString(" /XObject <<")
	if xobjects := resources.Key("XObject"); xobjects.Kind() == pdf.Dict {
		if err := writeDictEntries(buf, xobjects.GetPtr().GetID(), xobjects, 0, map[string]bool{s.name: true}); err != nil {
			return err
		}
	}
	buf.WriteString(" " + pdfName(s.name) + " " + reference(s.xobjID))
	buf.WriteString(" >> >>")
	return nil
}

// writeArrayItems writes the elements of v, or v itself when it is a single
// object, each preceded by a space.
func writeArrayItems(buf *bytes.Buffer, v pdf.Value) error {
	switch v.Kind() {
	case pdf.Null:
		return nil
	case pdf.Array:
		parentID := v.GetPtr().GetID()
		for i := 0; i < v.Len(); i++ {
			buf.WriteString(" ")
			if err := writeValue(buf, parentID, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		ptr := v.GetPtr()
		if ptr.GetID() == 0 {
			return fmt.Errorf("%w: direct %v where a reference was expected", ErrCorruptDocumentStructure, v.Kind())
		}
		buf.WriteString(" ")
		writeReference(buf, ptr.GetID(), ptr.GetGen())
		return nil
	}
}

func writeAnnots(buf *bytes.Buffer, existing pdf.Value, added []uint32) error {
	if existing.IsNull() && len(added) == 0 {
		return nil
	}
	buf.WriteString(" /Annots [")
	if existing.Kind() == pdf.Array {
		if err := writeArrayItems(buf, existing); err != nil {
			return err
		}
	}
	for _, id := range added {
		buf.WriteString(" " + reference(id))
	}
	buf.WriteString("]")
	return nil
}
