package cache

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestCompress_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("abc")},
		{"repetitive", bytes.Repeat([]byte("minq cache payload "), 200)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			packed, err := compress(tc.in)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			out, err := decompress(packed)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, tc.in) {
				t.Errorf("round trip = %q, want %q", out, tc.in)
			}
		})
	}
}

func TestCompress_ShrinksRepetitive(t *testing.T) {
	in := bytes.Repeat([]byte("a"), 4096)
	packed, err := compress(in)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if packed[0] != payloadLZ4 {
		t.Errorf("flag = %d, want lz4", packed[0])
	}
	if len(packed) >= len(in) {
		t.Errorf("packed len = %d, want < %d", len(packed), len(in))
	}
}

func TestDecompress_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"too short", []byte{0}},
		{"bad flag", []byte{9, 0}},
		{"length mismatch", []byte{payloadRaw, 5, 'a'}},
		{"huge lz4 length", append(binary.AppendUvarint([]byte{payloadLZ4}, 1<<62), 'a', 'b')},
		{"lz4 length past block bound", append(binary.AppendUvarint([]byte{payloadLZ4}, 1<<20), 'a', 'b')},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decompress(tc.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}
