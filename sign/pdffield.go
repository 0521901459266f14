package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdfcosign/fields"
)

// Widget annotation flags: Print (bit 3) and Locked (bit 8).
const widgetFlags = 4 | 128

// createField writes the merged field and widget dictionary of an unsigned
// signature field, with an empty normal appearance. The visible stamp is
// part of the page content.
func (context *revisionContext) createField(id uint32, f fields.Field) error {
	width, height := f.Rect[2]-f.Rect[0], f.Rect[3]-f.Rect[1]
	apID, err := context.addObject([]byte(fmt.Sprintf(
		"<< /Type /XObject /Subtype /Form /BBox [0 0 %s %s] /Resources << >> /Length 0 >>\nstream\n\nendstream",
		formatNumber(width), formatNumber(height))))
	if err != nil {
		return fmt.Errorf("failed to add field appearance: %w", err)
	}

	var field bytes.Buffer
	field.WriteString("<< /Type /Annot")
	field.WriteString(" /Subtype /Widget")
	field.WriteString(" /FT /Sig")
	field.WriteString(" /T " + pdfString(f.Name))
	fmt.Fprintf(&field, " /Rect [%s %s %s %s]", formatNumber(f.Rect[0]), formatNumber(f.Rect[1]), formatNumber(f.Rect[2]), formatNumber(f.Rect[3]))
	fmt.Fprintf(&field, " /F %d", widgetFlags)
	field.WriteString(" /P " + reference(f.PageID))
	field.WriteString(" /AP << /N " + reference(apID) + " >>")
	field.WriteString(" >>")

	if err := context.writeReserved(id, field.Bytes()); err != nil {
		return fmt.Errorf("failed to add signature field %s: %w", f.Name, err)
	}
	return nil
}

// setFieldValue writes a new version of the field pointing at the signature
// dictionary sigID.
func (context *revisionContext) setFieldValue(f fields.Field, sigID uint32) error {
	value, ok := context.doc.fieldValue(f.ObjectID)
	if !ok {
		return fmt.Errorf("%w: field %s (object %d) not listed in AcroForm", ErrCorruptDocumentStructure, f.Name, f.ObjectID)
	}

	var field bytes.Buffer
	field.WriteString("<<")
	if err := writeDictEntries(&field, f.ObjectID, value, 0, map[string]bool{"V": true}); err != nil {
		return err
	}
	field.WriteString(" /V " + reference(sigID))
	field.WriteString(" >>")

	return context.updateObject(f.ObjectID, value.GetPtr().GetGen(), field.Bytes())
}
