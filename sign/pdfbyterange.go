package sign

import (
	"bytes"
	"fmt"
	"strings"
)

// signatureOffsets locates the ByteRange and Contents placeholders of the
// signature dictionary written at sigStart.
func signatureOffsets(file_content []byte, sigStart int64) (byteRangeStart, contentsStart int64, err error) {
	region := file_content[sigStart:]

	i := bytes.Index(region, []byte(signatureByteRangePlaceholder))
	if i < 0 {
		return 0, 0, fmt.Errorf("ByteRange placeholder not found")
	}
	j := bytes.Index(region, []byte("/Contents<"))
	if j < 0 {
		return 0, 0, fmt.Errorf("Contents placeholder not found")
	}
	return sigStart + int64(i), sigStart + int64(j) + int64(len("/Contents")), nil
}

// updateByteRange computes the ByteRange that covers the whole file except
// the Contents value, including its angle brackets, and writes it over the
// placeholder.
func updateByteRange(file_content []byte, byteRangeStart, contentsStart int64, signatureMaxLength int) ([4]int64, error) {
	var byteRange [4]int64

	// Signature ByteRange part 1 start byte is always byte 0.
	byteRange[0] = 0

	// Part 1 stops at the opening bracket of the signature contents.
	byteRange[1] = contentsStart

	// Part 2 starts directly after the closing bracket.
	byteRange[2] = contentsStart + int64(signatureMaxLength) + 2

	// Part 2 length is everything else of the file.
	byteRange[3] = int64(len(file_content)) - byteRange[2]

	new_byte_range := fmt.Sprintf("/ByteRange[%d %d %d %d]", byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	if len(new_byte_range) > len(signatureByteRangePlaceholder) {
		return byteRange, fmt.Errorf("ByteRange %s does not fit the placeholder", new_byte_range)
	}

	// Make sure our ByteRange string didn't shrink in length.
	new_byte_range += strings.Repeat(" ", len(signatureByteRangePlaceholder)-len(new_byte_range))

	copy(file_content[byteRangeStart:], new_byte_range)
	return byteRange, nil
}
