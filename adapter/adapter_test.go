package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDummySignVerifyRoundTrip(t *testing.T) {
	d := NewDummy("validator-leader")
	ctx := context.Background()

	data := []byte("state-root-bytes")

	sig, err := d.Sign(ctx, data)
	assert.NoError(t, err)

	ok, err := d.Verify(d.WhoAmI(), data, sig)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestDummyVerifyRejectsTamperedData(t *testing.T) {
	d := NewDummy("validator-leader")
	ctx := context.Background()

	sig, err := d.Sign(ctx, []byte("original"))
	assert.NoError(t, err)

	ok, err := d.Verify(d.WhoAmI(), []byte("tampered"), sig)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDummyVerifyRejectsWrongIdentity(t *testing.T) {
	d := NewDummy("validator-leader")
	ctx := context.Background()

	data := []byte("state-root-bytes")
	sig, err := d.Sign(ctx, data)
	assert.NoError(t, err)

	ok, err := d.Verify(Identity("someone-else"), data, sig)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestParseDummySignature(t *testing.T) {
	d := NewDummy("validator-leader")
	ctx := context.Background()

	sig, err := d.Sign(ctx, []byte("abcd"))
	assert.NoError(t, err)

	dataHex, identity, err := ParseDummySignature(sig)
	assert.NoError(t, err)
	assert.Equal(t, "61626364", dataHex)
	assert.Equal(t, "validator-leader", identity)
}

func TestParseDummySignatureRejectsMalformed(t *testing.T) {
	_, _, err := ParseDummySignature(Signature("not a real signature"))
	assert.ErrorIs(t, err, ErrDummyMalformedSignature)
}
