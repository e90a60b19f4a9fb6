package textenc

import (
	"bytes"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Encoding
	}{
		{name: "Empty", data: nil, want: UTF8},
		{name: "Plain", data: []byte("hello"), want: UTF8},
		{name: "UTF8BOM", data: []byte("\xEF\xBB\xBFhello"), want: UTF8BOM},
		{name: "UTF16LE", data: []byte{0xFF, 0xFE, 'h', 0}, want: UTF16LE},
		{name: "UTF16BE", data: []byte{0xFE, 0xFF, 0, 'h'}, want: UTF16BE},
		{name: "TruncatedBOM", data: []byte{0xEF, 0xBB}, want: UTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
		enc  Encoding
	}{
		{name: "Plain", data: []byte("héllo"), want: "héllo", enc: UTF8},
		{name: "UTF8BOM", data: []byte("\xEF\xBB\xBFhéllo"), want: "héllo", enc: UTF8BOM},
		{name: "UTF16LE", data: []byte{0xFF, 0xFE, 'h', 0, 0xE9, 0}, want: "hé", enc: UTF16LE},
		{name: "UTF16BE", data: []byte{0xFE, 0xFF, 0, 'h', 0, 0xE9}, want: "hé", enc: UTF16BE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enc, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.want || enc != tt.enc {
				t.Errorf("Decode() = %q, %s, want %q, %s", got, enc, tt.want, tt.enc)
			}
		})
	}
}

func TestEncodeKeepsTemplateEncoding(t *testing.T) {
	for _, enc := range []Encoding{UTF8, UTF8BOM, UTF16LE, UTF16BE} {
		t.Run(enc.String(), func(t *testing.T) {
			data, err := Encode("out ✓\n", enc)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if got := Detect(data); got != enc {
				t.Errorf("Detect(Encode()) = %s, want %s", got, enc)
			}
			text, _, err := Decode(data)
			if err != nil || text != "out ✓\n" {
				t.Errorf("Decode(Encode()) = %q, %v", text, err)
			}
		})
	}

	data, _ := Encode("ab", UTF16LE)
	if !bytes.Equal(data, []byte{0xFF, 0xFE, 'a', 0, 'b', 0}) {
		t.Errorf("Encode(UTF16LE) = % x", data)
	}
}
