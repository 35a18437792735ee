package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Payload header flags.
const (
	payloadRaw byte = 0
	payloadLZ4 byte = 1
)

// maxLZ4Ratio bounds how far an lz4 block can expand.
const maxLZ4Ratio = 255

// compress packs a payload as flag + uvarint(original length) + body.
// Bodies lz4 cannot shrink are stored raw.
func compress(src []byte) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	n := 1 + binary.PutUvarint(header[1:], uint64(len(src)))

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var hashTable [1 << 16]int
	size, err := lz4.CompressBlock(src, dst, hashTable[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if size == 0 || size >= len(src) {
		header[0] = payloadRaw
		return append(header[:n], src...), nil
	}
	header[0] = payloadLZ4
	return append(header[:n], dst[:size]...), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("invalid cache payload: len=%d", len(data))
	}
	size, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, fmt.Errorf("invalid cache payload length header")
	}
	body := data[1+n:]

	switch data[0] {
	case payloadRaw:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("invalid cache payload: len=%d, want %d", len(body), size)
		}
		return body, nil
	case payloadLZ4:
		if size > uint64(len(body))*maxLZ4Ratio+16 {
			return nil, fmt.Errorf("invalid cache payload: length %d exceeds block bound", size)
		}
		out := make([]byte, size)
		got, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		if uint64(got) != size {
			return nil, fmt.Errorf("invalid cache payload: decompressed %d bytes, want %d", got, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid cache payload flag %d", data[0])
	}
}
