package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload length Receive will accept, hardening
// against a peer claiming an adversarial length and exhausting memory.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned when a peer announces a frame larger than
// MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds maximum size of %d bytes", MaxFrameSize)

// Send writes data as one length-prefixed frame: a 4-byte big-endian
// length L followed by exactly L payload bytes.
func Send(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed frame and returns its payload.
// A short read at any point is a fatal framing error.
func Receive(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}
