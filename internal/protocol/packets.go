package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/MrKareem1980/globed2/internal/errs"
)

// Packet ids on the reliable channel.
const (
	PacketCryptoHandshakeStart    byte = 0x01
	PacketCryptoHandshakeResponse byte = 0x02
	PacketLogin                   byte = 0x03
	PacketProtocolMismatch        byte = 0x04
	PacketLoginFailed             byte = 0x05
	PacketServerBanned            byte = 0x06
	PacketLoggedIn                byte = 0x07
	PacketServerDisconnect        byte = 0x08
)

// ProtocolVersion is the server's supported wire protocol version.
const ProtocolVersion uint16 = 1

// WildcardProtocolVersion is accepted for compatibility probing regardless
// of the server's actual version.
const WildcardProtocolVersion uint16 = 0xFFFF

// MaxInlineStringLen bounds any length-prefixed string field.
const MaxInlineStringLen = 256

// PutInlineString appends a 2-byte length prefix followed by s to dst.
func PutInlineString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

// ReadInlineString reads a 2-byte length prefix followed by that many
// bytes, returning the string and the remaining buffer.
func ReadInlineString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("inline string: truncated length prefix: %w", errs.ErrProtocol)
	}
	n := int(binary.LittleEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if n > MaxInlineStringLen || n > len(buf) {
		return "", nil, fmt.Errorf("inline string: length %d exceeds bound or buffer: %w", n, errs.ErrProtocol)
	}
	return string(buf[:n]), buf[n:], nil
}

// IconSet is a fixed-size customization payload; fields are opaque to the
// relay core.
type IconSet [8]uint16

// CryptoHandshakeStart is the first frame any session must send.
type CryptoHandshakeStart struct {
	Protocol  uint16
	PublicKey [32]byte
}

func (p *CryptoHandshakeStart) Marshal(dst []byte) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], p.Protocol)
	dst = append(dst, buf[:]...)
	return append(dst, p.PublicKey[:]...)
}

func (p *CryptoHandshakeStart) Unmarshal(buf []byte) error {
	if len(buf) < 2+32 {
		return fmt.Errorf("CryptoHandshakeStart: truncated body: %w", errs.ErrProtocol)
	}
	p.Protocol = binary.LittleEndian.Uint16(buf[:2])
	copy(p.PublicKey[:], buf[2:34])
	return nil
}

// CryptoHandshakeResponse carries the server's long-lived public key.
type CryptoHandshakeResponse struct {
	PublicKey [32]byte
}

func (p *CryptoHandshakeResponse) Marshal(dst []byte) []byte {
	return append(dst, p.PublicKey[:]...)
}

// ProtocolMismatch is sent when the client's protocol version is rejected.
type ProtocolMismatch struct {
	ServerProtocol uint16
}

func (p *ProtocolMismatch) Marshal(dst []byte) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], p.ServerProtocol)
	return append(dst, buf[:]...)
}

// Login is the client's login request.
type Login struct {
	AccountID           int32
	UserID              int32
	Name                string
	Token               string
	Icons               IconSet
	FragmentationLimit  uint16
	Platform            string
}

func (p *Login) Unmarshal(buf []byte) error {
	if len(buf) < 4+4 {
		return fmt.Errorf("Login: truncated header: %w", errs.ErrProtocol)
	}
	p.AccountID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	p.UserID = int32(binary.LittleEndian.Uint32(buf[4:8]))
	rest := buf[8:]

	var err error
	p.Name, rest, err = ReadInlineString(rest)
	if err != nil {
		return err
	}
	p.Token, rest, err = ReadInlineString(rest)
	if err != nil {
		return err
	}
	if len(rest) < len(p.Icons)*2+2 {
		return fmt.Errorf("Login: truncated icons/fragmentation limit: %w", errs.ErrProtocol)
	}
	for i := range p.Icons {
		p.Icons[i] = binary.LittleEndian.Uint16(rest[i*2 : i*2+2])
	}
	rest = rest[len(p.Icons)*2:]
	p.FragmentationLimit = binary.LittleEndian.Uint16(rest[:2])
	rest = rest[2:]

	p.Platform, _, err = ReadInlineString(rest)
	if err != nil {
		return err
	}
	return nil
}

// LoginFailed carries a human-readable reason.
type LoginFailed struct {
	Message string
}

func (p *LoginFailed) Marshal(dst []byte) []byte {
	return PutInlineString(dst, p.Message)
}

// ServerBanned carries a reason and a (possibly zero, meaning "unstated")
// ban expiry.
type ServerBanned struct {
	Message   string
	Timestamp int64
}

func (p *ServerBanned) Marshal(dst []byte) []byte {
	dst = PutInlineString(dst, p.Message)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Timestamp))
	return append(dst, buf[:]...)
}

// LoggedIn is sent on a successful login; SecretKey is the session claim key.
type LoggedIn struct {
	TPS             uint32
	SpecialUserData []byte
	AllRoles        []byte
	SecretKey       uint32
}

func (p *LoggedIn) Marshal(dst []byte) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], p.TPS)
	dst = append(dst, buf[:]...)

	binary.LittleEndian.PutUint32(buf[:], uint32(len(p.SpecialUserData)))
	dst = append(dst, buf[:]...)
	dst = append(dst, p.SpecialUserData...)

	binary.LittleEndian.PutUint32(buf[:], uint32(len(p.AllRoles)))
	dst = append(dst, buf[:]...)
	dst = append(dst, p.AllRoles...)

	binary.LittleEndian.PutUint32(buf[:], p.SecretKey)
	return append(dst, buf[:]...)
}

// ServerDisconnect carries a human-readable reason for a server-initiated
// disconnect (duplicate login eviction, maintenance, policy rejection).
type ServerDisconnect struct {
	Message string
}

func (p *ServerDisconnect) Marshal(dst []byte) []byte {
	return PutInlineString(dst, p.Message)
}
