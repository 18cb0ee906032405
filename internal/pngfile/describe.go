package pngfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// chunkNames gives a short human name for well-known tags.
var chunkNames = map[string]string{
	"IHDR": "image header",
	"PLTE": "palette",
	"IDAT": "image data",
	"IEND": "end of file",
	"sBIT": "significant bits",
	"gAMA": "image gamma",
	"sRGB": "standard RGB colour space",
	"pHYs": "physical pixel dimensions",
	"tEXt": "textual data",
	"iTXt": "international textual data",
	"zTXt": "compressed textual data",
	"iCCP": "embedded ICC profile",
	"tIME": "last modification time",
	"bKGD": "background colour",
	"cHRM": "primary chromaticities and white point",
	"hIST": "image histogram",
	"sPLT": "suggested palette",
}

var colorTypes = map[byte]string{
	0: "grayscale",
	2: "true color",
	3: "indexed color",
	4: "grayscale with alpha",
	6: "true color with alpha",
}

var renderingIntents = map[byte]string{
	0: "perceptual",
	1: "relative colorimetric",
	2: "saturation",
	3: "absolute colorimetric",
}

type describer func(data []byte, out map[string]string) error

var describers = map[string]describer{
	"IHDR": describeIHDR,
	"PLTE": describePLTE,
	"IDAT": describeIDAT,
	"IEND": func([]byte, map[string]string) error { return nil },
	"sBIT": describeSBIT,
	"gAMA": describeGAMA,
	"sRGB": describeSRGB,
	"pHYs": describePHYS,
	"tEXt": describeTEXT,
	"zTXt": describeZTXT,
	"iCCP": describeICCP,
	"iTXt": describeITXT,
	"tIME": describeTIME,
	"bKGD": describeBKGD,
	"cHRM": describeCHRM,
	"hIST": describeHIST,
	"sPLT": describeSPLT,
}

// Name returns the human name of a tag, or "" if the tag is not known.
func Name(tag string) string {
	return chunkNames[tag]
}

// Describe decodes the fields of well-known chunk types. Every description
// carries "type", "length" and "crc"; unknown tags and payloads too short for
// their type are reported as opaque.
func Describe(c *Chunk) map[string]string {
	out := map[string]string{
		"type":   c.Type(),
		"length": strconv.FormatUint(uint64(c.Length), 10),
		"crc":    fmt.Sprintf("%08x", c.CRC),
	}
	if name := Name(c.Type()); name != "" {
		out["name"] = name
	}

	fn, ok := describers[c.Type()]
	if !ok {
		out["opaque"] = "true"
		return out
	}
	if err := fn(c.Data, out); err != nil {
		out["opaque"] = "true"
		out["error"] = err.Error()
	}
	return out
}

func need(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("payload has %d bytes, want %d", len(data), n)
	}
	return nil
}

func u32(b []byte) string { return strconv.FormatUint(uint64(binary.BigEndian.Uint32(b)), 10) }
func u16(b []byte) string { return strconv.FormatUint(uint64(binary.BigEndian.Uint16(b)), 10) }
func u8(b byte) string    { return strconv.Itoa(int(b)) }

// fixed renders a PNG fixed-point value (scaled by 100000).
func fixed(b []byte) string {
	return strconv.FormatFloat(float64(binary.BigEndian.Uint32(b))/100000, 'f', -1, 64)
}

// cstring splits a NUL-terminated string off the front of data.
func cstring(data []byte) (string, []byte) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return string(data), nil
	}
	return string(data[:i]), data[i+1:]
}

func compressionName(m byte) string {
	if m == 0 {
		return "deflate"
	}
	return "unknown(" + u8(m) + ")"
}

func describeIHDR(data []byte, out map[string]string) error {
	if err := need(data, 13); err != nil {
		return err
	}
	out["width"] = u32(data[0:4])
	out["height"] = u32(data[4:8])
	out["bit_depth"] = u8(data[8])
	if name, ok := colorTypes[data[9]]; ok {
		out["color_type"] = name
	} else {
		out["color_type"] = "unknown(" + u8(data[9]) + ")"
	}
	out["compression_method"] = compressionName(data[10])
	if data[11] == 0 {
		out["filter_method"] = "adaptive"
	} else {
		out["filter_method"] = "unknown(" + u8(data[11]) + ")"
	}
	if data[12] == 1 {
		out["interlace_method"] = "adam7"
	} else {
		out["interlace_method"] = "none"
	}
	return nil
}

func describePLTE(data []byte, out map[string]string) error {
	out["entries"] = strconv.Itoa(len(data) / 3)
	return nil
}

func describeIDAT(data []byte, out map[string]string) error {
	out["compressed_bytes"] = strconv.Itoa(len(data))
	return nil
}

func describeSBIT(data []byte, out map[string]string) error {
	switch len(data) {
	case 1, 2:
		out["gray"] = u8(data[0])
	case 3, 4:
		out["red"] = u8(data[0])
		out["green"] = u8(data[1])
		out["blue"] = u8(data[2])
	default:
		return fmt.Errorf("unexpected sBIT length %d", len(data))
	}
	if len(data) == 2 || len(data) == 4 {
		out["alpha"] = u8(data[len(data)-1])
	}
	return nil
}

func describeGAMA(data []byte, out map[string]string) error {
	if err := need(data, 4); err != nil {
		return err
	}
	out["gamma"] = fixed(data[0:4])
	return nil
}

func describeSRGB(data []byte, out map[string]string) error {
	if err := need(data, 1); err != nil {
		return err
	}
	if intent, ok := renderingIntents[data[0]]; ok {
		out["rendering_intent"] = intent
	} else {
		out["rendering_intent"] = "unknown(" + u8(data[0]) + ")"
	}
	return nil
}

func describePHYS(data []byte, out map[string]string) error {
	if err := need(data, 9); err != nil {
		return err
	}
	out["pixels_per_unit_x"] = u32(data[0:4])
	out["pixels_per_unit_y"] = u32(data[4:8])
	if data[8] == 1 {
		out["unit"] = "meter"
	} else {
		out["unit"] = "unknown"
	}
	return nil
}

func describeTEXT(data []byte, out map[string]string) error {
	keyword, rest := cstring(data)
	out["keyword"] = keyword
	out["text"] = string(rest)
	return nil
}

// describeCompressed handles the keyword, method, zlib-stream layout shared by
// zTXt and iCCP.
func describeCompressed(data []byte, out map[string]string, field string, inflate bool) error {
	keyword, rest := cstring(data)
	out["keyword"] = keyword
	if err := need(rest, 1); err != nil {
		return err
	}
	out["compression_method"] = compressionName(rest[0])
	stream := rest[1:]
	if !inflate {
		out[field] = strconv.Itoa(len(stream)) + " compressed bytes"
		return nil
	}
	text, err := Inflate(stream)
	if err != nil {
		return err
	}
	out[field] = string(text)
	return nil
}

func describeZTXT(data []byte, out map[string]string) error {
	return describeCompressed(data, out, "text", true)
}

func describeICCP(data []byte, out map[string]string) error {
	return describeCompressed(data, out, "profile", false)
}

func describeITXT(data []byte, out map[string]string) error {
	keyword, rest := cstring(data)
	out["keyword"] = keyword
	if err := need(rest, 2); err != nil {
		return err
	}
	compressed := rest[0] == 1
	out["compression_flag"] = u8(rest[0])
	out["compression_method"] = compressionName(rest[1])

	language, rest := cstring(rest[2:])
	out["language_tag"] = language
	translated, rest := cstring(rest)
	out["translated_keyword"] = translated

	if !compressed {
		out["text"] = string(rest)
		return nil
	}
	text, err := Inflate(rest)
	if err != nil {
		return err
	}
	out["text"] = string(text)
	return nil
}

func describeTIME(data []byte, out map[string]string) error {
	if err := need(data, 7); err != nil {
		return err
	}
	out["time"] = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		binary.BigEndian.Uint16(data[0:2]), data[2], data[3], data[4], data[5], data[6])
	return nil
}

func describeBKGD(data []byte, out map[string]string) error {
	switch len(data) {
	case 1:
		out["palette_index"] = u8(data[0])
	case 2:
		out["gray"] = u16(data[0:2])
	case 6:
		out["red"] = u16(data[0:2])
		out["green"] = u16(data[2:4])
		out["blue"] = u16(data[4:6])
	default:
		return fmt.Errorf("unexpected bKGD length %d", len(data))
	}
	return nil
}

func describeCHRM(data []byte, out map[string]string) error {
	if err := need(data, 32); err != nil {
		return err
	}
	fields := []string{"white_point_x", "white_point_y", "red_x", "red_y", "green_x", "green_y", "blue_x", "blue_y"}
	for i, f := range fields {
		out[f] = fixed(data[i*4 : i*4+4])
	}
	return nil
}

func describeHIST(data []byte, out map[string]string) error {
	out["entries"] = strconv.Itoa(len(data) / 2)
	return nil
}

func describeSPLT(data []byte, out map[string]string) error {
	name, rest := cstring(data)
	out["palette_name"] = name
	if err := need(rest, 1); err != nil {
		return err
	}
	out["sample_depth"] = u8(rest[0])
	entry := 6
	if rest[0] == 16 {
		entry = 10
	}
	out["entries"] = strconv.Itoa((len(rest) - 1) / entry)
	return nil
}
