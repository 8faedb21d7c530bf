package adapter

import (
	"context"
	"encoding/hex"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/internal/log"
)

// Ethereum is a keystore-file-backed ECDSA adapter, selected via
// --adapter ethereum / --keystoreFile.
type Ethereum struct {
	keystoreFile string
	password     string

	key *keystore.Key

	identity Identity
}

// NewEthereum constructs an adapter that will unlock the key at
// keystoreFile using password. Init/Unlock must be called before use.
func NewEthereum(keystoreFile, password string) *Ethereum {
	return &Ethereum{keystoreFile: keystoreFile, password: password}
}

// Init verifies a keystore path is set and the file exists; it does not
// decrypt the key (that's Unlock's job, which may be slower).
func (e *Ethereum) Init() error {
	if e.keystoreFile == "" {
		return errors.New("adapter: ethereum adapter requires --keystoreFile")
	}

	if _, err := os.Stat(e.keystoreFile); err != nil {
		return errors.Wrap(err, "adapter: keystore file not found")
	}

	return nil
}

// Unlock decrypts the keystore file with the configured password. This is
// the adapter's one potentially slow/blocking lifecycle step.
func (e *Ethereum) Unlock(ctx context.Context) error {
	data, err := os.ReadFile(e.keystoreFile)
	if err != nil {
		return errors.Wrap(err, "adapter: read keystore file")
	}

	key, err := keystore.DecryptKey(data, e.password)
	if err != nil {
		return errors.Wrap(err, "adapter: decrypt keystore")
	}

	e.key = key
	e.identity = Identity(key.Address.Hex())

	log.Info().Str("identity", string(e.identity)).Msg("Ethereum adapter unlocked.")

	return nil
}

func (e *Ethereum) WhoAmI() Identity { return e.identity }

// Sign produces an ECDSA signature over keccak256(data), matching
// go-ethereum's SignatureLength-65-byte (r || s || v) convention.
func (e *Ethereum) Sign(ctx context.Context, data []byte) (Signature, error) {
	if e.key == nil {
		return "", errors.New("adapter: ethereum adapter is locked")
	}

	hash := crypto.Keccak256(data)

	sig, err := crypto.Sign(hash, e.key.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "adapter: sign")
	}

	return Signature(hex.EncodeToString(sig)), nil
}

// Verify recovers the public key from sig over keccak256(data) and checks
// it corresponds to identity's address.
func (e *Ethereum) Verify(identity Identity, data []byte, sig Signature) (bool, error) {
	sigBytes, err := hex.DecodeString(string(sig))
	if err != nil {
		return false, errors.Wrap(err, "adapter: decode signature")
	}
	if len(sigBytes) != 65 {
		return false, nil
	}

	hash := crypto.Keccak256(data)

	pub, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return false, nil
	}

	return crypto.PubkeyToAddress(*pub).Hex() == string(identity), nil
}
