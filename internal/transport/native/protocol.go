// Package native serves the message schema over browser native messaging:
// stdin/stdout frames of a 4-byte little-endian length followed by JSON.
package native

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize is the browser's native messaging limit for host-to-extension frames.
const MaxMessageSize = 1 << 20

// ReadMessage reads one length-prefixed frame.
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", length, MaxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes msg as one length-prefixed frame.
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(msg), MaxMessageSize)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(msg))); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}
