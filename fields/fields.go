// Package fields keeps track of the signature fields of a document, one per
// signer, keyed by the signer's sequence position.
package fields

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
)

// Prefix is the common prefix of all signer field names.
const Prefix = "Signature"

// ErrNameConflict is returned when a field with the generated name exists
// but is not a signature field.
var ErrNameConflict = errors.New("field name already used by a non-signature field")

// Name returns the field name for the signer at position.
func Name(position int) string {
	return Prefix + strconv.Itoa(position+1)
}

// PositionOf is the inverse of Name.
func PositionOf(name string) (int, bool) {
	if !strings.HasPrefix(name, Prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(Prefix):])
	if err != nil || n < 1 || Name(n-1) != name {
		return 0, false
	}
	return n - 1, true
}

// Field describes one signer's signature field.
type Field struct {
	Position int
	Name     string

	// ObjectID is the indirect object holding the field. Zero until the
	// field has been written.
	ObjectID uint32

	// PageID is the object ID of the page the widget is attached to.
	PageID uint32

	// Rect is the widget rectangle in PDF user space.
	Rect [4]float64

	// Signed reports whether the field already carries a signature value.
	Signed bool
}

// Registry is the set of fields of one document revision.
type Registry struct {
	byPosition map[int]*Field
	conflicts  map[string]uint32

	// refs lists the object IDs of the /Fields array in document order,
	// including fields that are not signer fields.
	refs []uint32
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byPosition: make(map[int]*Field),
		conflicts:  make(map[string]uint32),
	}
}

// Load reads the AcroForm fields of the document.
func Load(r *pdf.Reader) (*Registry, error) {
	reg := New()

	form := r.Trailer().Key("Root").Key("AcroForm")
	if form.IsNull() {
		return reg, nil
	}
	list := form.Key("Fields")
	if list.IsNull() {
		return reg, nil
	}
	if list.Kind() != pdf.Array {
		return nil, fmt.Errorf("AcroForm /Fields is not an array")
	}

	listID := list.GetPtr().GetID()
	for i := 0; i < list.Len(); i++ {
		f := list.Index(i)
		id := f.GetPtr().GetID()
		if f.Kind() != pdf.Dict || id == 0 || id == listID {
			// Direct field dictionaries cannot be referenced from a page
			// and are not something we can update incrementally.
			continue
		}
		reg.refs = append(reg.refs, id)

		name := f.Key("T").Text()
		pos, ok := PositionOf(name)
		if !ok {
			continue
		}
		if f.Key("FT").Name() != "Sig" {
			reg.conflicts[name] = id
			continue
		}
		if _, exists := reg.byPosition[pos]; exists {
			continue
		}

		field := &Field{
			Position: pos,
			Name:     name,
			ObjectID: id,
			PageID:   f.Key("P").GetPtr().GetID(),
			Signed:   !f.Key("V").IsNull(),
		}
		if rect := f.Key("Rect"); rect.Len() == 4 {
			for j := 0; j < 4; j++ {
				field.Rect[j] = rect.Index(j).Float64()
			}
		}
		reg.byPosition[pos] = field
	}

	return reg, nil
}

// Lookup returns the field registered for position.
func (r *Registry) Lookup(position int) (Field, bool) {
	f, ok := r.byPosition[position]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// Ensure returns the field for position, registering a new unsigned field
// when none exists yet. The boolean reports whether the field was created by
// this call. Calling Ensure again for the same position returns the same
// field and does not create a duplicate.
func (r *Registry) Ensure(position int) (Field, bool, error) {
	if position < 0 {
		return Field{}, false, fmt.Errorf("negative position %d", position)
	}
	if f, ok := r.byPosition[position]; ok {
		return *f, false, nil
	}

	name := Name(position)
	if id, ok := r.conflicts[name]; ok {
		return Field{}, false, fmt.Errorf("%w: %s (object %d)", ErrNameConflict, name, id)
	}

	f := &Field{Position: position, Name: name}
	r.byPosition[position] = f
	return *f, true, nil
}

// Bind records where a newly created field has been written.
func (r *Registry) Bind(position int, objectID, pageID uint32, rect [4]float64) error {
	f, ok := r.byPosition[position]
	if !ok {
		return fmt.Errorf("no field registered for position %d", position)
	}
	if f.ObjectID != 0 {
		if f.ObjectID == objectID {
			return nil
		}
		return fmt.Errorf("field %s already bound to object %d", f.Name, f.ObjectID)
	}
	f.ObjectID = objectID
	f.PageID = pageID
	f.Rect = rect
	r.refs = append(r.refs, objectID)
	return nil
}

// Pending returns the fields that have been created but not yet written.
func (r *Registry) Pending() []Field {
	var out []Field
	for _, f := range r.byPosition {
		if f.ObjectID == 0 {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Fields returns the signer fields ordered by position.
func (r *Registry) Fields() []Field {
	out := make([]Field, 0, len(r.byPosition))
	for _, f := range r.byPosition {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Refs returns the object IDs that make up the document's /Fields array.
func (r *Registry) Refs() []uint32 {
	return append([]uint32(nil), r.refs...)
}

// Len returns the number of signer fields.
func (r *Registry) Len() int {
	return len(r.byPosition)
}
