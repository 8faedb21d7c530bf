package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeystore(t *testing.T, password string) string {
	t.Helper()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}

	data, err := keystore.EncryptKey(key, password, keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keystore.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestEthereumAdapterSignVerify(t *testing.T) {
	path := writeTestKeystore(t, "correct horse battery staple")

	a := NewEthereum(path, "correct horse battery staple")
	require.NoError(t, a.Init())
	require.NoError(t, a.Unlock(context.Background()))

	data := []byte("state-root-bytes")
	sig, err := a.Sign(context.Background(), data)
	require.NoError(t, err)

	ok, err := a.Verify(a.WhoAmI(), data, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEthereumAdapterRejectsWrongPassword(t *testing.T) {
	path := writeTestKeystore(t, "right password")

	a := NewEthereum(path, "wrong password")
	require.NoError(t, a.Init())
	assert.Error(t, a.Unlock(context.Background()))
}

func TestEthereumAdapterInitRejectsMissingFile(t *testing.T) {
	a := NewEthereum(filepath.Join(t.TempDir(), "missing.json"), "pw")
	assert.Error(t, a.Init())
}
