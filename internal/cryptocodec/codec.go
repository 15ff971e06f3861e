// Package cryptocodec implements the per-session authenticated-encryption
// context used on the reliable channel: a NaCl box (Curve25519 + XSalsa20 +
// Poly1305) precomputed shared key, initialized once from a client-supplied
// public key during the handshake.
package cryptocodec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/nacl/box"

	"github.com/MrKareem1980/globed2/internal/errs"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Identity is the server's long-lived key pair, generated fresh per process
// start. Hot reconfiguration is a declared non-goal.
type Identity struct {
	Public  [keySize]byte
	private [keySize]byte
}

// GenerateIdentity draws a fresh Curve25519 key pair from crypto/rand.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating server identity: %w", err)
	}
	return &Identity{Public: *pub, private: *priv}, nil
}

// directionServer / directionClient tag which half of the nonce space a
// sequence counter belongs to, so the two directions of a session never
// reuse a nonce against the same shared key.
const (
	directionServer byte = 0
	directionClient byte = 1
)

// Codec holds one session's precomputed shared key and the two independent
// sequence counters used to derive unique nonces per direction.
type Codec struct {
	identity *Identity

	initialized   atomic.Bool
	sharedKey     [keySize]byte
	clientPublic  [keySize]byte
	sendSeq       atomic.Uint32
	recvSeq       atomic.Uint32
}

// New returns a Codec bound to the server's long-lived identity. It is not
// usable for Seal/Open until Init is called.
func New(identity *Identity) *Codec {
	return &Codec{identity: identity}
}

// Init performs the one-shot handshake: precomputes the shared key from the
// client's public key and the server's private key. Fails with
// errs.ErrCryptoAlreadyInitialized on a second call.
func (c *Codec) Init(clientPublicKey [keySize]byte) error {
	if !c.initialized.CompareAndSwap(false, true) {
		return errs.ErrCryptoAlreadyInitialized
	}
	c.clientPublic = clientPublicKey
	box.Precompute(&c.sharedKey, &clientPublicKey, &c.identity.private)
	return nil
}

// Initialized reports whether Init has succeeded.
func (c *Codec) Initialized() bool {
	return c.initialized.Load()
}

// ServerPublicKey returns the server's long-lived public key, sent back to
// the client in the handshake response.
func (c *Codec) ServerPublicKey() [keySize]byte {
	return c.identity.Public
}

// nonceFor derives a 24-byte nonce from a direction tag and sequence number.
// The remaining bytes are zero; uniqueness comes entirely from (direction,
// seq), which is monotonic and never reused within a session's lifetime.
func nonceFor(direction byte, seq uint32) [nonceSize]byte {
	var nonce [nonceSize]byte
	nonce[0] = direction
	binary.BigEndian.PutUint32(nonce[1:5], seq)
	return nonce
}

// Seal encrypts plaintext for sending to the client, appending the result to
// dst. Fails with errs.ErrCrypto if the codec has not been initialized.
func (c *Codec) Seal(dst, plaintext []byte) ([]byte, error) {
	if !c.Initialized() {
		return nil, errs.ErrCrypto
	}
	seq := c.sendSeq.Add(1) - 1
	nonce := nonceFor(directionServer, seq)
	return box.SealAfterPrecomputation(dst, plaintext, &nonce, &c.sharedKey), nil
}

// OpenInPlace decrypts buf in place (box.OpenAfterPrecomputation only ever
// shrinks its input, so this never grows beyond buf's backing array) and
// returns the plaintext subslice. Fails with errs.ErrBadCipher on MAC
// failure and errs.ErrCrypto if uninitialized.
func (c *Codec) OpenInPlace(buf []byte) ([]byte, error) {
	if !c.Initialized() {
		return nil, errs.ErrCrypto
	}
	seq := c.recvSeq.Add(1) - 1
	nonce := nonceFor(directionClient, seq)
	out, ok := box.OpenAfterPrecomputation(buf[:0], buf, &nonce, &c.sharedKey)
	if !ok {
		return nil, errs.ErrBadCipher
	}
	return out, nil
}
