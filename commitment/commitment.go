// Package commitment computes the 32-byte state-root commitment that binds
// a channel id to a post-fee balance tree. The construction must be
// byte-identical on both the leader and the follower or the follower's
// signature over it is meaningless; it is built from keccak256, the hash
// go-ethereum (and Solidity Merkle proofs in general) use, matching the
// ethereum signing adapter.
package commitment

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/outpace-protocol/validator-worker/balance"
)

// Size is the length in bytes of a state root.
const Size = 32

var channelLeafPrefix = []byte("outpace-channel")

// Root computes the state root for a channel id over a balances-after-fees
// tree. Leaves are keccak256(uint64BE(len(publisher)) || publisher ||
// bigEndianAmount) sorted lexicographically by publisher; the channel id
// is mixed in as a
// distinguished first leaf so two different channels with identical
// balance trees never collide on the same root. Pairs are folded with
// keccak256(left || right); an odd leaf out is paired with itself (the
// conventional odd-leaf duplication rule).
func Root(channelID string, balancesAfterFees balance.Map) [Size]byte {
	leaves := make([][]byte, 0, len(balancesAfterFees)+1)
	leaves = append(leaves, leafHash(append(append([]byte{}, channelLeafPrefix...), []byte(channelID)...)))

	for _, publisher := range balancesAfterFees.SortedKeys() {
		amount := balancesAfterFees.Get(publisher)

		buf := append([]byte(publisher), amount.Bytes()...)
		// Separate the publisher id from the amount bytes with a fixed-width
		// length prefix so "ab"+"c" can never collide with "a"+"bc".
		var lenPrefix [8]byte
		binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(publisher)))
		leaf := append(lenPrefix[:], buf...)

		leaves = append(leaves, leafHash(leaf))
	}

	return fold(leaves)
}

func leafHash(data []byte) []byte {
	h := crypto.Keccak256(data)
	return h
}

func fold(leaves [][]byte) [Size]byte {
	if len(leaves) == 0 {
		var zero [Size]byte
		return zero
	}

	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, crypto.Keccak256(append(append([]byte{}, left...), right...)))
		}
		level = next
	}

	var root [Size]byte
	copy(root[:], level[0])
	return root
}

// IsValidRootHash recomputes the root from claimed balances and compares it
// to the received root.
func IsValidRootHash(receivedRoot [Size]byte, channelID string, balancesAfterFees balance.Map) bool {
	computed := Root(channelID, balancesAfterFees)
	return computed == receivedRoot
}
