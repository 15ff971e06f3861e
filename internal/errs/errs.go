// Package errs defines the error taxonomy shared across the relay server:
// Transport, Protocol, Crypto, Authentication, Policy, Upstream, Invariant.
// Callers wrap a sentinel with fmt.Errorf("...: %w", sentinel) and test with
// errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers read/write failure and peer close. Always terminal.
	ErrTransport = errors.New("transport error")

	// ErrProtocol covers malformed frames, unknown ids, and cleartext where
	// encryption is required.
	ErrProtocol = errors.New("protocol error")

	// ErrCrypto covers MAC failure and use of an uninitialized codec. Terminal.
	ErrCrypto = errors.New("crypto error")

	// ErrAuthentication covers an invalid token or an unreachable issuer.
	// Recoverable at the session level.
	ErrAuthentication = errors.New("authentication error")

	// ErrPolicy covers ban, whitelist, maintenance, and fragmentation-floor
	// rejections. Sent to the client, then the session terminates.
	ErrPolicy = errors.New("policy error")

	// ErrUpstream covers the central service being unreachable or returning
	// a malformed response.
	ErrUpstream = errors.New("upstream error")

	// ErrInvariant signals a violated internal invariant, e.g. promoting a
	// session with no bound datagram peer.
	ErrInvariant = errors.New("invariant violation")

	// ErrMalformedLogin is the distinct, always-terminal error for a
	// cleartext login attempt.
	ErrMalformedLogin = fmt.Errorf("cleartext login attempt: %w", ErrProtocol)

	// ErrCryptoAlreadyInitialized is returned by a second call to InitCrypto.
	ErrCryptoAlreadyInitialized = fmt.Errorf("crypto already initialized: %w", ErrCrypto)

	// ErrBadCipher is returned when decryption fails its MAC check.
	ErrBadCipher = fmt.Errorf("bad cipher: %w", ErrCrypto)
)

// NoHandler is a recoverable protocol error: the session survives, the
// handler result is just logged.
type NoHandler struct {
	ID byte
}

func (e *NoHandler) Error() string {
	return fmt.Sprintf("no handler for packet id 0x%02x", e.ID)
}

func (e *NoHandler) Unwrap() error {
	return ErrProtocol
}
