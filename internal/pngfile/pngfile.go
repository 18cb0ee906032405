// Package pngfile reads and writes the PNG container at chunk level.
//
// Only the framing is handled here: signature, length, tag, payload and CRC of
// every record. Pixel decoding is left to image/png.
package pngfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/faanross/pngrsa/internal/params"
)

var (
	// ErrBadSignature is returned when the 8-byte PNG signature is missing.
	ErrBadSignature = errors.New("pngfile: not a PNG file")
	// ErrTruncated is returned when a chunk runs past the end of the data.
	ErrTruncated = errors.New("pngfile: truncated chunk")
	// ErrChecksum is returned when a stored CRC does not match the chunk.
	ErrChecksum = errors.New("pngfile: checksum mismatch")
	// ErrMalformed is returned for chunk order or length violations.
	ErrMalformed = errors.New("pngfile: malformed chunk sequence")
)

// Image is a PNG file split into its signature and ordered chunk records.
type Image struct {
	Header [8]byte
	Chunks []*Chunk
}

// Parse splits a PNG byte stream into chunks. Stored CRCs are kept as read;
// use Verify to check them. Anything after IEND is dropped.
func Parse(data []byte) (*Image, error) {
	if len(data) < len(params.PNG_SIGNATURE) || string(data[:len(params.PNG_SIGNATURE)]) != params.PNG_SIGNATURE {
		return nil, ErrBadSignature
	}

	img := &Image{}
	copy(img.Header[:], data)

	offset := len(params.PNG_SIGNATURE)
	for offset < len(data) {
		if len(data)-offset < params.CHUNK_OVERHEAD {
			return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, len(data)-offset, offset)
		}

		length := binary.BigEndian.Uint32(data[offset:])
		end := offset + params.CHUNK_OVERHEAD + int(length)
		if uint64(length) > uint64(len(data)) || end > len(data) {
			return nil, fmt.Errorf("%w: chunk at offset %d declares %d bytes", ErrTruncated, offset, length)
		}

		c := &Chunk{Length: length}
		copy(c.Tag[:], data[offset+params.CHUNK_LEN_SIZE:])
		dataStart := offset + params.CHUNK_LEN_SIZE + params.CHUNK_TAG_SIZE
		c.Data = append([]byte(nil), data[dataStart:dataStart+int(length)]...)
		c.CRC = binary.BigEndian.Uint32(data[end-params.CHUNK_CRC_SIZE:])
		img.Chunks = append(img.Chunks, c)

		offset = end
		if c.Type() == params.TAG_IMAGE_END {
			break
		}
	}

	return img, nil
}

// Bytes serializes the image. Length and CRC fields are written as stored.
func (img *Image) Bytes() []byte {
	size := len(img.Header)
	for _, c := range img.Chunks {
		size += params.CHUNK_OVERHEAD + len(c.Data)
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(img.Header[:])
	for _, c := range img.Chunks {
		var word [4]byte
		binary.BigEndian.PutUint32(word[:], c.Length)
		buf.Write(word[:])
		buf.Write(c.Tag[:])
		buf.Write(c.Data)
		binary.BigEndian.PutUint32(word[:], c.CRC)
		buf.Write(word[:])
	}
	return buf.Bytes()
}

// Clone returns a deep copy of img.
func (img *Image) Clone() *Image {
	out := &Image{Header: img.Header, Chunks: make([]*Chunk, len(img.Chunks))}
	for i, c := range img.Chunks {
		out.Chunks[i] = c.Clone()
	}
	return out
}

// Indexes returns the positions of all chunks with the given tag, in order.
func (img *Image) Indexes(tag string) []int {
	var idx []int
	for i, c := range img.Chunks {
		if c.Type() == tag {
			idx = append(idx, i)
		}
	}
	return idx
}

// ReadFile loads and parses a PNG file.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return img, nil
}

// WriteFile writes img next to path under a temporary name and renames it into
// place, so a failed write leaves any existing file untouched.
func WriteFile(path string, img *Image) error {
	path = filepath.Clean(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pngrsa-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
