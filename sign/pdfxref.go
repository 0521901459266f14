package sign

import (
	"fmt"
	"sort"
)

// writeXref writes the cross-reference section and trailer in the same
// flavour as the input, so readers can follow the /Prev chain.
func (context *revisionContext) writeXref() error {
	switch context.doc.reader.XrefInformation.Type {
	case "table":
		if err := context.writeIncrXrefTable(); err != nil {
			return fmt.Errorf("failed to write incremental xref table: %w", err)
		}
	case "stream":
		if err := context.writeXrefStream(); err != nil {
			return fmt.Errorf("failed to write xref stream: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown xref type %q", ErrCorruptDocumentStructure, context.doc.reader.XrefInformation.Type)
	}
	return context.writeTrailer()
}

// xrefSubsections groups entries into runs of consecutive object IDs.
func xrefSubsections(entries []xrefEntry) [][]xrefEntry {
	sorted := append([]xrefEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var sections [][]xrefEntry
	for i, entry := range sorted {
		if i == 0 || entry.ID != sorted[i-1].ID+1 {
			sections = append(sections, nil)
		}
		sections[len(sections)-1] = append(sections[len(sections)-1], entry)
	}
	return sections
}

// size returns the /Size of the new trailer.
func (context *revisionContext) size() uint32 {
	size := uint32(context.doc.reader.Trailer().Key("Size").Int64())
	if context.nextID > size {
		size = context.nextID
	}
	return size
}
