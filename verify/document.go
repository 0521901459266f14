package verify

import (
	"bytes"
	"strings"
	"time"

	"github.com/digitorus/pdf"
)

// parseDocumentInfo parses document information from the PDF Info dictionary.
func parseDocumentInfo(v pdf.Value, documentInfo *DocumentInfo) {
	documentInfo.Author = v.Key("Author").Text()
	documentInfo.Creator = v.Key("Creator").Text()
	documentInfo.Producer = v.Key("Producer").Text()
	documentInfo.Subject = v.Key("Subject").Text()
	documentInfo.Title = v.Key("Title").Text()

	if kw := v.Key("Keywords").Text(); kw != "" {
		documentInfo.Keywords = parseKeywords(kw)
	}
	documentInfo.CreationDate, _ = parseDate(v.Key("CreationDate").Text())
	documentInfo.ModDate, _ = parseDate(v.Key("ModDate").Text())
}

// parseDate parses PDF formatted dates (D:YYYYMMDDHHmmSSOHH'mm').
func parseDate(v string) (time.Time, error) {
	v = strings.ReplaceAll(v, "'", "")
	if strings.HasSuffix(v, "Z") {
		return time.Parse("D:20060102150405Z", v)
	}
	return time.Parse("D:20060102150405-0700", v)
}

// parseKeywords splits the Keywords entry on commas or semicolons, falling
// back to whitespace.
func parseKeywords(value string) []string {
	for _, sep := range []string{",", ";"} {
		if strings.Contains(value, sep) {
			parts := strings.Split(value, sep)
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return strings.Fields(value)
}

// countRevisions counts the %%EOF markers, one per revision.
func countRevisions(data []byte) int {
	return bytes.Count(data, []byte("%%EOF"))
}
