// Package placement computes where a signer's visual stamp goes.
//
// Stamps are laid out four to a page, left to right, along the bottom of the
// last page of the document. Coordinates use a top-left page origin, the
// same convention the stamp layout has always been specified in; use
// Placement.PDFRect to obtain PDF user space coordinates.
package placement

import (
	"errors"
	"fmt"
)

const (
	// StampWidth and StampHeight are the canonical stamp dimensions.
	StampWidth  = 150
	StampHeight = 86

	// PerPage is the number of stamps that fit on one page.
	PerPage = 4

	// Spacing is the horizontal distance between the left edges of two
	// consecutive stamps.
	Spacing = 123

	// OffsetX is the left edge of the first stamp on a page.
	OffsetX = 50

	// OffsetBottom is subtracted from the page height to obtain the top edge
	// of every stamp.
	OffsetBottom = 106
)

// ErrInvalidPageGeometry is returned when the reference page has no area.
var ErrInvalidPageGeometry = errors.New("invalid page geometry")

// Rect is a rectangle given by its origin and size.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Placement is the result of placing a stamp.
type Placement struct {
	Position int

	// Slot is the stamp's index on its page, in [0, PerPage).
	Slot int

	// PageOffset is the number of overflow pages that precede the stamp's
	// page. Zero means the document's original last page. Overflow pages
	// have the same size as Page.
	PageOffset int

	// Page is the rectangle of the page the stamp lands on.
	Page Rect

	// Box is the stamp's bounding box in top-left page coordinates.
	Box Rect
}

// Place returns the bounding box for the stamp at position on a document
// whose last page has the given rectangle.
func Place(position int, lastPage Rect) (Placement, error) {
	if position < 0 {
		return Placement{}, fmt.Errorf("negative position %d", position)
	}
	if lastPage.Width <= 0 || lastPage.Height <= 0 {
		return Placement{}, fmt.Errorf("%w: %gx%g", ErrInvalidPageGeometry, lastPage.Width, lastPage.Height)
	}

	slot := position % PerPage
	return Placement{
		Position:   position,
		Slot:       slot,
		PageOffset: position / PerPage,
		Page:       lastPage,
		Box: Rect{
			X:      float64(OffsetX + slot*Spacing),
			Y:      lastPage.Height - OffsetBottom,
			Width:  StampWidth,
			Height: StampHeight,
		},
	}, nil
}

// PDFRect returns the stamp box as lower-left and upper-right corners in PDF
// user space, where the origin is the bottom-left corner of the page.
func (p Placement) PDFRect() [4]float64 {
	llx := p.Page.X + p.Box.X
	ury := p.Page.Y + p.Page.Height - p.Box.Y
	return [4]float64{llx, ury - p.Box.Height, llx + p.Box.Width, ury}
}
