// Package audio unwraps the PCM16 payload of WAV containers.
package audio

import (
	"bytes"
	"encoding/binary"
)

const riffHeaderSize = 12

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= riffHeaderSize &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// PCM returns the payload of the WAV "data" chunk, or data unchanged when it
// is not a WAV container. A truncated data chunk yields what is present.
func PCM(data []byte) []byte {
	if !IsWAV(data) {
		return data
	}

	offset := riffHeaderSize
	for offset+8 <= len(data) {
		id := data[offset : offset+4]
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		start := offset + 8

		if bytes.Equal(id, []byte("data")) {
			end := start + size
			if end > len(data) || end < start {
				end = len(data)
			}
			return data[start:end]
		}

		// Chunks are word aligned.
		next := start + size + size%2
		if next <= offset {
			break
		}
		offset = next
	}

	// No data chunk: fall back to the canonical 44-byte header.
	if len(data) > 44 {
		return data[44:]
	}
	return nil
}
