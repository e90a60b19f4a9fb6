// Package textenc sniffs the byte order mark of template files and converts
// between their encoding and UTF-8 strings. Output files are written in the
// encoding of their template.
package textenc

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding identifies a supported text encoding.
type Encoding int

// Supported encodings. UTF8 has no byte order mark.
const (
	UTF8 Encoding = iota
	UTF8BOM
	UTF16LE
	UTF16BE
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// String returns the name of the encoding.
func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case UTF8BOM:
		return "utf-8-bom"
	case UTF16LE:
		return "utf-16le"
	case UTF16BE:
		return "utf-16be"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

func (e Encoding) encoding() encoding.Encoding {
	switch e {
	case UTF8BOM:
		return unicode.UTF8BOM
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	default:
		return unicode.UTF8
	}
}

// Detect returns the encoding announced by the byte order mark of data, or
// UTF8 when there is none.
func Detect(data []byte) Encoding {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return UTF8BOM
	case bytes.HasPrefix(data, bomUTF16LE):
		return UTF16LE
	case bytes.HasPrefix(data, bomUTF16BE):
		return UTF16BE
	default:
		return UTF8
	}
}

// Decode detects the encoding of data and returns its text without the byte
// order mark.
func Decode(data []byte) (string, Encoding, error) {
	enc := Detect(data)
	out, _, err := transform.Bytes(enc.encoding().NewDecoder(), data)
	if err != nil {
		return "", enc, fmt.Errorf("failed to decode %s text: %w", enc, err)
	}
	return string(out), enc, nil
}

// Encode converts text to enc, writing a byte order mark for every
// encoding except UTF8.
func Encode(text string, enc Encoding) ([]byte, error) {
	out, _, err := transform.Bytes(enc.encoding().NewEncoder(), []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s text: %w", enc, err)
	}
	return out, nil
}
