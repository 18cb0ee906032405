package pngfile

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/faanross/pngrsa/internal/params"
)

// Verify checks every chunk's length field and checksum, and that the image
// opens with IHDR and closes with IEND. All problems are reported together.
func Verify(img *Image) error {
	var result *multierror.Error

	if len(img.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrMalformed)
	}
	if first := img.Chunks[0].Type(); first != params.TAG_IMAGE_HEADER {
		result = multierror.Append(result, fmt.Errorf("%w: first chunk is %q", ErrMalformed, first))
	}
	if last := img.Chunks[len(img.Chunks)-1].Type(); last != params.TAG_IMAGE_END {
		result = multierror.Append(result, fmt.Errorf("%w: last chunk is %q", ErrMalformed, last))
	}

	for i, c := range img.Chunks {
		if int(c.Length) != len(c.Data) {
			result = multierror.Append(result, fmt.Errorf("%w: chunk %d (%s) length field %d, payload %d",
				ErrMalformed, i, c.Type(), c.Length, len(c.Data)))
		}
		if want := Checksum(c.Tag, c.Data); c.CRC != want {
			result = multierror.Append(result, fmt.Errorf("%w: chunk %d (%s) stored %08x, computed %08x",
				ErrChecksum, i, c.Type(), c.CRC, want))
		}
	}

	return result.ErrorOrNil()
}

// Anonymize drops every ancillary chunk (text, time, physical size, colour
// profile and the like), keeping only what is needed to render the image. It
// returns the number of chunks removed.
func Anonymize(img *Image) int {
	kept := img.Chunks[:0]
	removed := 0
	for _, c := range img.Chunks {
		if c.Critical() {
			kept = append(kept, c)
			continue
		}
		removed++
	}
	for i := len(kept); i < len(img.Chunks); i++ {
		img.Chunks[i] = nil
	}
	img.Chunks = kept
	return removed
}
