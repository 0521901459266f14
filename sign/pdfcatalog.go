package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"
)

// updateCatalog rewrites the document catalog so that its AcroForm lists
// every signature field in the registry.
func (context *revisionContext) updateCatalog() error {
	root := context.doc.reader.Trailer().Key("Root")

	var catalog bytes.Buffer
	catalog.WriteString("<<")
	if err := writeDictEntries(&catalog, context.doc.rootID, root, 0, map[string]bool{"AcroForm": true}); err != nil {
		return err
	}

	catalog.WriteString(" /AcroForm <<")
	form := root.Key("AcroForm")
	if form.Kind() == pdf.Dict {
		formID := form.GetPtr().GetID()
		if err := writeDictEntries(&catalog, formID, form, 0, map[string]bool{"Fields": true, "SigFlags": true}); err != nil {
			return err
		}
	}

	catalog.WriteString(" /Fields [")
	for i, id := range context.doc.fields.Refs() {
		if i > 0 {
			catalog.WriteString(" ")
		}
		catalog.WriteString(reference(id))
	}
	catalog.WriteString("]")

	// Signature flags (Table 225): SignaturesExist and AppendOnly.
	catalog.WriteString(" /SigFlags 3")

	catalog.WriteString(" >>") // close AcroForm
	catalog.WriteString(" >>")

	if err := context.updateObject(context.doc.rootID, context.doc.rootGen, catalog.Bytes()); err != nil {
		return fmt.Errorf("failed to update catalog: %w", err)
	}
	return nil
}
