package adapter

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Dummy is a non-cryptographic adapter for local development and tests.
// Its signature format is a fixed, human-readable string:
// "Dummy adapter signature for <hex> by <id>".
type Dummy struct {
	identity Identity
}

// NewDummy constructs a dummy adapter with a fixed identity.
func NewDummy(identity string) *Dummy {
	return &Dummy{identity: Identity(identity)}
}

func (d *Dummy) Init() error { return nil }

func (d *Dummy) Unlock(ctx context.Context) error { return nil }

func (d *Dummy) WhoAmI() Identity { return d.identity }

func (d *Dummy) Sign(ctx context.Context, data []byte) (Signature, error) {
	return Signature(fmt.Sprintf("Dummy adapter signature for %s by %s", hex.EncodeToString(data), d.identity)), nil
}

func (d *Dummy) Verify(identity Identity, data []byte, sig Signature) (bool, error) {
	expected := fmt.Sprintf("Dummy adapter signature for %s by %s", hex.EncodeToString(data), identity)
	if string(sig) != expected {
		return false, nil
	}
	return true, nil
}

// ErrDummyMalformedSignature is returned by ParseDummySignature when a
// signature doesn't match the expected "Dummy adapter signature for <hex>
// by <id>" shape.
var ErrDummyMalformedSignature = errors.New("adapter: malformed dummy signature")

// ParseDummySignature extracts the hex payload and identity a dummy
// signature claims to cover, for diagnostics and tests.
func ParseDummySignature(sig Signature) (dataHex string, identity string, err error) {
	const prefix = "Dummy adapter signature for "
	const infix = " by "

	s := string(sig)
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", "", ErrDummyMalformedSignature
	}
	rest := s[len(prefix):]

	idx := -1
	for i := 0; i+len(infix) <= len(rest); i++ {
		if rest[i:i+len(infix)] == infix {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", ErrDummyMalformedSignature
	}

	return rest[:idx], rest[idx+len(infix):], nil
}
