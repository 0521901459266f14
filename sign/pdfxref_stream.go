package sign

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	xrefStreamColumns   = 7 // Column width (1+4+2)
	xrefStreamPredictor = 12
)

// writeXrefStream writes the cross-reference stream to the output buffer.
// The stream object itself is the last new object of the revision.
func (context *revisionContext) writeXrefStream() error {
	xrefID := context.reserveObject()
	context.NewXrefStart = int64(context.OutputBuffer.Buff.Len()) + 1

	entries := append(append([]xrefEntry(nil), context.updatedXrefEntries...), context.newXrefEntries...)
	entries = append(entries, xrefEntry{ID: xrefID, Offset: context.NewXrefStart})
	sections := xrefSubsections(entries)

	var data bytes.Buffer
	for _, section := range sections {
		for _, entry := range section {
			writeXrefStreamLine(&data, 1, entry.Offset, entry.Generation)
		}
	}

	streamBytes, err := EncodePNGUPBytes(xrefStreamColumns, data.Bytes())
	if err != nil {
		return fmt.Errorf("failed to encode xref stream: %w", err)
	}

	var object bytes.Buffer
	object.WriteString("<< /Type /XRef")
	fmt.Fprintf(&object, " /Size %d", context.size())
	object.WriteString(" /W [1 4 2]")
	object.WriteString(" /Index [")
	for i, section := range sections {
		if i > 0 {
			object.WriteByte(' ')
		}
		fmt.Fprintf(&object, "%d %d", section[0].ID, len(section))
	}
	object.WriteString("]")
	fmt.Fprintf(&object, " /Prev %d", context.doc.reader.XrefInformation.StartPos)
	if err := context.writeTrailerReferences(&object); err != nil {
		return err
	}
	object.WriteString(" /Filter /FlateDecode")
	fmt.Fprintf(&object, " /DecodeParms << /Columns %d /Predictor %d >>", xrefStreamColumns, xrefStreamPredictor)
	fmt.Fprintf(&object, " /Length %d >>\nstream\n", len(streamBytes))
	object.Write(streamBytes)
	object.WriteString("\nendstream")

	context.newXrefEntries = append(context.newXrefEntries, xrefEntry{ID: xrefID, Offset: context.NewXrefStart})
	return context.writeObject(xrefID, 0, object.Bytes())
}

// writeXrefStreamLine writes a single row in the xref stream.
func writeXrefStreamLine(b *bytes.Buffer, xreftype byte, offset int64, gen uint16) {
	b.WriteByte(xreftype)

	offsetBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(offsetBytes, uint32(offset))
	b.Write(offsetBytes)

	genBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(genBytes, gen)
	b.Write(genBytes)
}

// EncodePNGUPBytes encodes data using PNG UP filter and compresses the
// result with zlib.
func EncodePNGUPBytes(columns int, data []byte) ([]byte, error) {
	rowCount := len(data) / columns
	if len(data)%columns != 0 {
		return nil, errors.New("invalid row/column length")
	}

	prevRowData := make([]byte, columns)

	buffer := bytes.NewBuffer(nil)
	tmpRowData := make([]byte, columns)
	for i := 0; i < rowCount; i++ {
		rowData := data[columns*i : columns*(i+1)]
		for j := 0; j < columns; j++ {
			tmpRowData[j] = rowData[j] - prevRowData[j]
		}

		// Save the previous row for prediction.
		copy(prevRowData, rowData)

		buffer.WriteByte(2)
		buffer.Write(tmpRowData)
	}

	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(buffer.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
