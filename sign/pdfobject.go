package sign

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

// maxValueDepth limits how deep direct objects are copied.
const maxValueDepth = 32

func (d *Document) newRevision() (*revisionContext, error) {
	context := &revisionContext{
		doc:          d,
		OutputBuffer: filebuffer.New([]byte{}),
	}

	size := d.reader.Trailer().Key("Size").Int64()
	if n := d.reader.XrefInformation.ItemCount; n > size {
		size = n
	}
	context.nextID = uint32(size)

	if _, err := context.OutputBuffer.Write(d.data); err != nil {
		return nil, err
	}
	if len(d.data) > 0 && d.data[len(d.data)-1] != '\n' {
		if _, err := context.OutputBuffer.Write([]byte("\n")); err != nil {
			return nil, err
		}
	}
	return context, nil
}

// reserveObject allocates an object ID for an object written later with
// writeReserved.
func (context *revisionContext) reserveObject() uint32 {
	id := context.nextID
	context.nextID++
	return id
}

func (context *revisionContext) addObject(object []byte) (uint32, error) {
	id := context.reserveObject()
	return id, context.writeReserved(id, object)
}

func (context *revisionContext) writeReserved(id uint32, object []byte) error {
	context.newXrefEntries = append(context.newXrefEntries, xrefEntry{
		ID:     id,
		Offset: int64(context.OutputBuffer.Buff.Len()) + 1,
	})
	return context.writeObject(id, 0, object)
}

// updateObject writes a new version of an existing object.
func (context *revisionContext) updateObject(id uint32, gen uint16, object []byte) error {
	entry := xrefEntry{
		ID:         id,
		Generation: gen,
		Offset:     int64(context.OutputBuffer.Buff.Len()) + 1,
	}
	replaced := false
	for i := range context.updatedXrefEntries {
		if context.updatedXrefEntries[i].ID == id {
			context.updatedXrefEntries[i] = entry
			replaced = true
		}
	}
	if !replaced {
		context.updatedXrefEntries = append(context.updatedXrefEntries, entry)
	}
	return context.writeObject(id, gen, object)
}

func (context *revisionContext) writeObject(id uint32, gen uint16, object []byte) error {
	if _, err := context.OutputBuffer.Write([]byte(fmt.Sprintf("\n%d %d obj\n", id, gen))); err != nil {
		return fmt.Errorf("failed to write object header: %w", err)
	}
	if _, err := context.OutputBuffer.Write(bytes.TrimSpace(object)); err != nil {
		return fmt.Errorf("failed to write object content: %w", err)
	}
	if _, err := context.OutputBuffer.Write([]byte("\nendobj\n")); err != nil {
		return fmt.Errorf("failed to write object footer: %w", err)
	}
	return nil
}

// writeValue serializes v. Values that live in another indirect object than
// parentID are written as references, direct values are copied.
func writeValue(buf *bytes.Buffer, parentID uint32, v pdf.Value) error {
	return writeValueDepth(buf, parentID, v, 0)
}

func writeValueDepth(buf *bytes.Buffer, parentID uint32, v pdf.Value, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("%w: object nesting too deep", ErrCorruptDocumentStructure)
	}
	if v.IsNull() {
		buf.WriteString("null")
		return nil
	}

	ptr := v.GetPtr()
	if ptr.GetID() != 0 && ptr.GetID() != parentID {
		writeReference(buf, ptr.GetID(), ptr.GetGen())
		return nil
	}

	switch v.Kind() {
	case pdf.Bool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case pdf.Integer:
		buf.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdf.Real:
		buf.WriteString(formatNumber(v.Float64()))
	case pdf.String:
		buf.WriteString("<" + hex.EncodeToString([]byte(v.RawString())) + ">")
	case pdf.Name:
		buf.WriteString(pdfName(v.Name()))
	case pdf.Array:
		buf.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := writeValueDepth(buf, parentID, v.Index(i), depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case pdf.Dict:
		buf.WriteString("<<")
		if err := writeDictEntries(buf, parentID, v, depth, nil); err != nil {
			return err
		}
		buf.WriteString(" >>")
	default:
		return fmt.Errorf("%w: cannot copy direct %v object", ErrCorruptDocumentStructure, v.Kind())
	}
	return nil
}

// writeDictEntries writes the entries of dict, leaving out the keys in skip.
func writeDictEntries(buf *bytes.Buffer, parentID uint32, dict pdf.Value, depth int, skip map[string]bool) error {
	for _, key := range dict.Keys() {
		if skip[key] {
			continue
		}
		val := dict.Key(key)
		if val.IsNull() {
			continue
		}
		buf.WriteString(" " + pdfName(key) + " ")

		// /P and /Parent always point at another object, even when the
		// reader resolves them to the dictionary being copied.
		if (key == "P" || key == "Parent") && val.GetPtr().GetID() != 0 {
			writeReference(buf, val.GetPtr().GetID(), val.GetPtr().GetGen())
			continue
		}
		if err := writeValueDepth(buf, parentID, val, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func writeReference(buf *bytes.Buffer, id uint32, gen uint16) {
	buf.WriteString(strconv.FormatUint(uint64(id), 10) + " " + strconv.FormatUint(uint64(gen), 10) + " R")
}

func reference(id uint32) string {
	return strconv.FormatUint(uint64(id), 10) + " 0 R"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// pdfName escapes a name object, including the leading solidus.
func pdfName(name string) string {
	var b bytes.Buffer
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7e || bytes.IndexByte([]byte("#()<>[]{}/%"), c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
