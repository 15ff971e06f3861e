// Package protocol implements the length-prefixed frame format shared by
// the reliable channel: a 2-byte little-endian total length, followed by a
// fixed packet header (id, encrypted flag) and the body.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MrKareem1980/globed2/internal/errs"
)

// HeaderSize is the fixed size of the packet header that follows the
// 2-byte length prefix: 1 byte id, 1 byte encrypted flag.
const HeaderSize = 2

// LengthPrefixSize is the size of the frame's outer length prefix.
const LengthPrefixSize = 2

// Header is the fixed portion of every frame on the reliable channel.
type Header struct {
	ID        byte
	Encrypted bool
}

// Encode writes h into the first HeaderSize bytes of dst.
func (h Header) Encode(dst []byte) {
	dst[0] = h.ID
	if h.Encrypted {
		dst[1] = 1
	} else {
		dst[1] = 0
	}
}

// DecodeHeader parses the fixed header from the front of buf. A frame
// smaller than HeaderSize is a protocol error.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frame of %d bytes shorter than header (%d): %w", len(buf), HeaderSize, errs.ErrProtocol)
	}
	return Header{
		ID:        buf[0],
		Encrypted: buf[1] != 0,
	}, nil
}

// PollForFrameLength reads the 2-byte length prefix and returns the number
// of bytes that follow it (the frame body, including the header). It
// tolerates fragmented transport reads because io.ReadFull blocks until
// either the prefix is fully read or the connection fails.
func PollForFrameLength(r io.Reader) (int, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, fmt.Errorf("polling frame length: %w: %w", errs.ErrTransport, err)
	}
	n := int(binary.LittleEndian.Uint16(prefix[:]))
	if n == 0 {
		return 0, fmt.Errorf("zero-length frame: %w", errs.ErrProtocol)
	}
	return n, nil
}

// ReadFrameBody reads exactly length bytes into buf[:length]. buf must have
// at least length bytes of capacity.
func ReadFrameBody(r io.Reader, buf []byte, length int) ([]byte, error) {
	if length > len(buf) {
		return nil, fmt.Errorf("frame body %d exceeds buffer size %d: %w", length, len(buf), errs.ErrProtocol)
	}
	body := buf[:length]
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w: %w", errs.ErrTransport, err)
	}
	return body, nil
}

// WriteFrame writes the length prefix followed by payload (which must
// already include the header) to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [LengthPrefixSize]byte
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing frame length: %w: %w", errs.ErrTransport, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w: %w", errs.ErrTransport, err)
	}
	return nil
}
