package sign

import (
	"fmt"
)

// writeIncrXrefTable writes the incremental cross-reference table to the output buffer.
func (context *revisionContext) writeIncrXrefTable() error {
	context.NewXrefStart = int64(context.OutputBuffer.Buff.Len())

	if _, err := context.OutputBuffer.Write([]byte("xref\n")); err != nil {
		return fmt.Errorf("failed to write xref header: %w", err)
	}

	entries := append(append([]xrefEntry(nil), context.updatedXrefEntries...), context.newXrefEntries...)
	for _, section := range xrefSubsections(entries) {
		if _, err := fmt.Fprintf(context.OutputBuffer, "%d %d\n", section[0].ID, len(section)); err != nil {
			return fmt.Errorf("failed to write subsection header: %w", err)
		}
		for _, entry := range section {
			if _, err := fmt.Fprintf(context.OutputBuffer, "%010d %05d n\r\n", entry.Offset, entry.Generation); err != nil {
				return fmt.Errorf("failed to write xref entry for object %d: %w", entry.ID, err)
			}
		}
	}

	return nil
}
