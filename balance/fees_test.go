package balance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterFeesPreservesSum(t *testing.T) {
	b := New()
	_ = b.Set("pub1", big.NewInt(700))
	_ = b.Set("pub2", big.NewInt(300))

	validators := []FeeRecipient{
		{Index: 0, Fee: big.NewInt(5)},
		{Index: 1, Fee: big.NewInt(3)},
	}

	result := AfterFees(b, big.NewInt(1000), validators)
	assert.Equal(t, b.Sum().String(), result.Sum().String())
}

func TestAfterFeesZeroFeeIsIdentity(t *testing.T) {
	b := New()
	_ = b.Set("pub1", big.NewInt(3))

	validators := []FeeRecipient{
		{Index: 0, Fee: big.NewInt(0)},
		{Index: 1, Fee: big.NewInt(0)},
	}

	result := AfterFees(b, big.NewInt(1000), validators)
	assert.True(t, Equal(b, result))
}

func TestAfterFeesRemainderGoesToLeader(t *testing.T) {
	b := New()
	_ = b.Set("pub1", big.NewInt(1))

	// A single wei of balance against a small deposit with nonzero fees
	// forces fractional division; the leader (index 0) must receive any
	// wei that doesn't evenly split between the two validators.
	validators := []FeeRecipient{
		{Index: 0, Fee: big.NewInt(1)},
		{Index: 1, Fee: big.NewInt(1)},
	}

	result := AfterFees(b, big.NewInt(2), validators)
	assert.Equal(t, b.Sum().String(), result.Sum().String())

	leaderFee := result.Get(validatorKey(0))
	followerFee := result.Get(validatorKey(1))
	assert.True(t, leaderFee.Cmp(followerFee) >= 0, "leader absorbs the rounding remainder")
}

func TestAfterFeesDeterministicAcrossKeyOrder(t *testing.T) {
	validators := []FeeRecipient{
		{Index: 0, Fee: big.NewInt(7)},
		{Index: 1, Fee: big.NewInt(2)},
	}
	deposit := big.NewInt(1000)

	b1 := New()
	_ = b1.Set("alice", big.NewInt(111))
	_ = b1.Set("bob", big.NewInt(222))
	_ = b1.Set("carol", big.NewInt(333))

	b2 := New()
	_ = b2.Set("carol", big.NewInt(333))
	_ = b2.Set("alice", big.NewInt(111))
	_ = b2.Set("bob", big.NewInt(222))

	r1 := AfterFees(b1, deposit, validators)
	r2 := AfterFees(b2, deposit, validators)
	assert.True(t, Equal(r1, r2))
}

func TestAfterFeesNeverUndershootsPublisher(t *testing.T) {
	b := New()
	_ = b.Set("pub1", big.NewInt(1000))

	validators := []FeeRecipient{
		{Index: 0, Fee: big.NewInt(1000)},
		{Index: 1, Fee: big.NewInt(1000)},
	}

	result := AfterFees(b, big.NewInt(1000), validators)
	assert.True(t, result.Get("pub1").Sign() >= 0)
	assert.Equal(t, b.Sum().String(), result.Sum().String())
}
