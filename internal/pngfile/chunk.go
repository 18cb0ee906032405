package pngfile

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/crc32"
	"io"
)

// Chunk is one PNG record: length, 4-byte tag, payload and CRC-32 over tag and
// payload.
type Chunk struct {
	Length uint32
	Tag    [4]byte
	Data   []byte
	CRC    uint32
}

// NewChunk builds a chunk with length and CRC filled in.
func NewChunk(tag string, data []byte) *Chunk {
	c := &Chunk{}
	copy(c.Tag[:], tag)
	c.SetData(data)
	return c
}

// Type returns the tag as a string.
func (c *Chunk) Type() string {
	return string(c.Tag[:])
}

// Critical reports whether the chunk is required to display the image. The
// case bit of the first tag letter marks ancillary chunks.
func (c *Chunk) Critical() bool {
	return c.Tag[0]&0x20 == 0
}

// SetData replaces the payload and rewrites Length and CRC to match.
func (c *Chunk) SetData(data []byte) {
	c.Data = data
	c.Length = uint32(len(data))
	c.UpdateCRC()
}

// UpdateCRC recomputes the checksum over tag and payload.
func (c *Chunk) UpdateCRC() {
	c.CRC = Checksum(c.Tag, c.Data)
}

// ValidCRC reports whether the stored checksum matches the contents.
func (c *Chunk) ValidCRC() bool {
	return c.CRC == Checksum(c.Tag, c.Data)
}

// Clone returns a deep copy of c.
func (c *Chunk) Clone() *Chunk {
	out := *c
	out.Data = append([]byte(nil), c.Data...)
	return &out
}

// Checksum is the CRC-32 (IEEE) of tag followed by data.
func Checksum(tag [4]byte, data []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(tag[:])
	h.Write(data)
	return h.Sum32()
}

// Inflate decompresses a zlib stream, as stored in IDAT, zTXt and iTXt.
func Inflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}

// Deflate compresses data into a zlib stream.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compression write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compression close failed: %w", err)
	}
	return buf.Bytes(), nil
}
