// Package adapter exposes the signing capability validator ticks need:
// whoami/sign/verify plus an init/unlock lifecycle. Ethereum (ECDSA,
// keystore-backed) and dummy implementations satisfy the same interface
// so the rest of the codebase never branches on adapter kind.
package adapter

import "context"

// Identity is an adapter's public, addressable identifier — an Ethereum
// address for the ethereum adapter, an arbitrary string for the dummy one.
type Identity string

// Signature is the string form of a signature produced by Sign: hex-encoded
// bytes for the ethereum adapter, a human-readable string for the dummy one.
type Signature string

// Adapter is implemented by every signing backend.
type Adapter interface {
	// Init performs one-time setup (e.g. loading a keystore file from
	// disk). It must be called before Unlock.
	Init() error

	// Unlock decrypts/activates the signing key. It may block on hardware
	// or prompt for a passphrase; callers should not assume it's fast.
	Unlock(ctx context.Context) error

	// WhoAmI returns this adapter's identity.
	WhoAmI() Identity

	// Sign signs an arbitrary byte string and returns a signature. May block.
	Sign(ctx context.Context, data []byte) (Signature, error)

	// Verify reports whether sig is a valid signature by identity over
	// data.
	Verify(identity Identity, data []byte, sig Signature) (bool, error)
}
