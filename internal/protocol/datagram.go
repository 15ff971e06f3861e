package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/MrKareem1980/globed2/internal/errs"
)

// DatagramHeaderSize is the fixed header on every datagram: 1 byte id.
const DatagramHeaderSize = 1

// Server-global datagram ids, handled directly by the dispatcher.
const (
	DatagramPing         byte = 0x01
	DatagramPingResponse byte = 0x02
	DatagramClaimThread  byte = 0x03
)

// MaxDatagramSize is the fixed receive buffer size for the dispatcher's
// datagram loop.
const MaxDatagramSize = 2048

// DecodeDatagramID returns the id byte and remaining body of buf.
func DecodeDatagramID(buf []byte) (byte, []byte, error) {
	if len(buf) < DatagramHeaderSize {
		return 0, nil, fmt.Errorf("datagram shorter than header: %w", errs.ErrProtocol)
	}
	return buf[0], buf[1:], nil
}

// Ping carries a client-chosen id to correlate the reply.
type Ping struct {
	ID uint32
}

func (p *Ping) Unmarshal(buf []byte) error {
	if len(buf) < 4 {
		return fmt.Errorf("Ping: truncated body: %w", errs.ErrProtocol)
	}
	p.ID = binary.LittleEndian.Uint32(buf[:4])
	return nil
}

// PingResponse echoes the ping id with the current total player count.
type PingResponse struct {
	ID          uint32
	PlayerCount uint32
}

func (p *PingResponse) Marshal(dst []byte) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], p.ID)
	dst = append(dst, buf[:]...)
	binary.LittleEndian.PutUint32(buf[:], p.PlayerCount)
	return append(dst, buf[:]...)
}

// ClaimThread carries the session claim key (§ claim protocol). No response
// is sent for this id.
type ClaimThread struct {
	SecretKey uint32
}

func (p *ClaimThread) Unmarshal(buf []byte) error {
	if len(buf) < 4 {
		return fmt.Errorf("ClaimThread: truncated body: %w", errs.ErrProtocol)
	}
	p.SecretKey = binary.LittleEndian.Uint32(buf[:4])
	return nil
}
