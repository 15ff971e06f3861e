package relay

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// ClaimKey is a 32-bit nonce drawn from a cryptographic RNG when an
// Unauthorized session is created. It binds a datagram peer to a session
// without a second handshake (see SPEC_FULL §9).
type ClaimKey uint32

// GenerateClaimKey draws a fresh claim key from crypto/rand. Collisions
// across sessions are tolerated (probability ≈ 1/2^32); a colliding claim
// simply binds the first match.
func GenerateClaimKey() (ClaimKey, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generating claim key: %w", err)
	}
	return ClaimKey(binary.LittleEndian.Uint32(buf[:])), nil
}
