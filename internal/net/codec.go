package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single payload. A 64k-agent frame with both
// transform buffers is about 6 MiB.
const MaxFrameSize = 64 << 20

// ReadFrame reads one render-stream frame from r.
// Wire format: [4 bytes LE: payload length][payload].
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLen := int(binary.LittleEndian.Uint32(header[:]))
	if payloadLen <= 0 || payloadLen > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// WriteFrame writes one render-stream frame to w.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 || len(data) > MaxFrameSize {
		return fmt.Errorf("invalid frame length: %d", len(data))
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(data)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
