package sign

import (
	"bytes"
	"fmt"
	"strconv"
)

// writeTrailer finishes the revision. For classic tables the trailer
// dictionary is written here, xref streams carry it in the stream header.
func (context *revisionContext) writeTrailer() error {
	if context.doc.reader.XrefInformation.Type == "table" {
		var trailer bytes.Buffer
		trailer.WriteString("trailer\n<<")
		fmt.Fprintf(&trailer, " /Size %d", context.size())
		if err := context.writeTrailerReferences(&trailer); err != nil {
			return err
		}
		fmt.Fprintf(&trailer, " /Prev %d", context.doc.reader.XrefInformation.StartPos)
		trailer.WriteString(" >>\n")

		if _, err := context.OutputBuffer.Write(trailer.Bytes()); err != nil {
			return err
		}
	}

	// Write the new xref start position.
	if _, err := context.OutputBuffer.Write([]byte("startxref\n" + strconv.FormatInt(context.NewXrefStart, 10) + "\n")); err != nil {
		return err
	}

	// Write PDF ending.
	if _, err := context.OutputBuffer.Write([]byte("%%EOF\n")); err != nil {
		return err
	}

	return nil
}

// writeTrailerReferences copies /Root, /Info and /ID from the current trailer.
func (context *revisionContext) writeTrailerReferences(buf *bytes.Buffer) error {
	buf.WriteString(" /Root ")
	writeReference(buf, context.doc.rootID, context.doc.rootGen)

	trailer := context.doc.reader.Trailer()
	parentID := trailer.GetPtr().GetID()
	for _, key := range []string{"Info", "ID"} {
		val := trailer.Key(key)
		if val.IsNull() {
			continue
		}
		buf.WriteString(" /" + key + " ")
		if err := writeValue(buf, parentID, val); err != nil {
			return fmt.Errorf("failed to copy trailer /%s: %w", key, err)
		}
	}
	return nil
}
