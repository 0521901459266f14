package sign

import (
	"errors"
	"fmt"
	"strconv"
)

// ApplyRevision appends an incremental update to doc that draws the stamp at
// the given placement and makes sure the signer's signature field exists.
// The original bytes are never modified. doc records the new field and must
// not be used for another revision afterwards; open the returned bytes
// instead.
func ApplyRevision(doc *Document, in RevisionInput) (rev *Revision, err error) {
	defer recoverMalformed(&err)

	if in.Stamp == nil || in.Stamp.Image == nil {
		return nil, errors.New("revision requires a rendered stamp")
	}
	if in.Placement.Position != in.Position {
		return nil, fmt.Errorf("placement is for position %d, not %d", in.Placement.Position, in.Position)
	}

	field, created, err := doc.fields.Ensure(in.Position)
	if err != nil {
		return nil, err
	}

	context, err := doc.newRevision()
	if err != nil {
		return nil, err
	}

	out := &Revision{Offset: doc.Len()}

	var target pageInfo
	if idx := doc.stampPage(in.Placement.PageOffset); idx < 0 {
		target = pageInfo{id: context.reserveObject(), mediaBox: in.Placement.Page}
		out.PageIndex = len(doc.pages)
		out.NewPage = true
	} else {
		target = doc.pages[idx]
		out.PageIndex = idx
	}

	xobjID, err := context.createStampXObject(in.Stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to write stamp: %w", err)
	}

	box := in.Placement.PDFRect()
	rect := [4]float64{box[0], box[1], box[0] + in.Stamp.Width(), box[1] + in.Stamp.Height()}

	s := pageStamp{
		name:   xobjectName(target.resources, "CoSign"+strconv.Itoa(in.Position+1)),
		xobjID: xobjID,
		llx:    box[0],
		lly:    box[1],
	}

	var fieldID uint32
	if created {
		fieldID = context.reserveObject()
		s.annots = []uint32{fieldID}
	}

	if out.NewPage {
		err = context.appendPage(target.id, target.mediaBox, s)
	} else {
		err = context.updatePage(target, s)
	}
	if err != nil {
		return nil, err
	}

	if created {
		if err := doc.fields.Bind(in.Position, fieldID, target.id, rect); err != nil {
			return nil, err
		}
		field, _ = doc.fields.Lookup(in.Position)
		if err := context.createField(fieldID, field); err != nil {
			return nil, err
		}
		if err := context.updateCatalog(); err != nil {
			return nil, err
		}
	}

	if err := context.writeXref(); err != nil {
		return nil, err
	}

	out.Bytes = context.OutputBuffer.Buff.Bytes()
	out.Field = field
	out.Rect = rect
	return out, nil
}
