// Package stamp renders signer stamps: a raster image normalized to the
// canonical stamp size together with the caption block printed above it.
package stamp

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/digitorus/pdfcosign/placement"
)

// ErrUnsupportedImageFormat is returned when the stamp image cannot be
// decoded.
var ErrUnsupportedImageFormat = errors.New("unsupported image format")

// DateLayout is the caption timestamp layout (dd/mm/YYYY HH:MM).
const DateLayout = "02/01/2006 15:04"

// Caption is the text printed above a stamp.
type Caption struct {
	JobTitle         string
	SignerName       string
	Time             time.Time
	VerificationCode string
}

// Lines returns the caption as a fixed three line block.
func (c Caption) Lines(loc *time.Location) []string {
	t := c.Time
	if loc != nil {
		t = t.In(loc)
	}
	return []string{
		c.JobTitle,
		c.SignerName + " - " + t.Format(DateLayout),
		"Verification code: " + c.VerificationCode,
	}
}

// Options controls how captions are laid out.
type Options struct {
	// FontName is the PostScript name of a standard Type 1 font.
	FontName string
	FontSize float64
	// Leading is the distance between two caption baselines.
	Leading float64
	// Gap is the space between the top of the image and the lowest caption
	// line's baseline.
	Gap float64
	// Location is used to format the caption timestamp. Nil keeps the
	// timestamp's own location.
	Location *time.Location
}

// DefaultOptions returns the standard caption layout: 8pt Helvetica.
func DefaultOptions() Options {
	return Options{
		FontName: "Helvetica",
		FontSize: 8,
		Leading:  9.6,
		Gap:      4,
	}
}

// Stamp is the composite produced by the renderer.
type Stamp struct {
	// Image is the normalized stamp image, exactly StampWidth x StampHeight
	// pixels.
	Image *image.NRGBA

	Lines    []string
	FontName string
	FontSize float64
	Leading  float64
	Gap      float64

	// Opaque reports whether every pixel of Image is fully opaque.
	Opaque bool
}

// Width returns the width of the composite in PDF units.
func (s *Stamp) Width() float64 {
	w := float64(placement.StampWidth)
	for _, l := range s.Lines {
		if lw := TextWidth(l, s.FontSize); lw > w {
			w = lw
		}
	}
	return w
}

// Height returns the height of the composite: the image plus the caption
// block above it.
func (s *Stamp) Height() float64 {
	return float64(placement.StampHeight) + s.CaptionHeight()
}

// CaptionHeight returns the height of the caption block.
func (s *Stamp) CaptionHeight() float64 {
	if len(s.Lines) == 0 {
		return 0
	}
	return s.Gap + float64(len(s.Lines)-1)*s.Leading + s.FontSize
}

// Renderer turns raw images and captions into stamps.
type Renderer struct {
	opts Options
}

// NewRenderer returns a renderer. Zero fields in opts fall back to
// DefaultOptions.
func NewRenderer(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.FontName == "" {
		opts.FontName = def.FontName
	}
	if opts.FontSize <= 0 {
		opts.FontSize = def.FontSize
	}
	if opts.Leading <= 0 {
		opts.Leading = opts.FontSize * 1.2
	}
	if opts.Gap <= 0 {
		opts.Gap = def.Gap
	}
	return &Renderer{opts: opts}
}

// Render decodes raw, resizes it to the canonical stamp size and attaches the
// caption.
func (r *Renderer) Render(raw []byte, caption Caption) (*Stamp, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImageFormat)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrUnsupportedImageFormat)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, placement.StampWidth, placement.StampHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return &Stamp{
		Image:    dst,
		Lines:    caption.Lines(r.opts.Location),
		FontName: r.opts.FontName,
		FontSize: r.opts.FontSize,
		Leading:  r.opts.Leading,
		Gap:      r.opts.Gap,
		Opaque:   dst.Opaque(),
	}, nil
}
