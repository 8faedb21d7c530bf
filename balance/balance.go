// Package balance implements the arbitrary-precision, non-negative balance
// maps that back every OUTPACE channel's off-chain state. All arithmetic is
// done with math/big; nothing on the money path ever touches a float.
package balance

import (
	"encoding/json"
	"math/big"
	"sort"

	"github.com/pkg/errors"
)

// ErrNegativeBalance is returned whenever an operation would leave a
// publisher with a negative balance.
var ErrNegativeBalance = errors.New("balance: negative balance")

// Map is a publisher -> amount ledger. The zero value is an empty, usable
// map. Wire form is a JSON object of decimal strings.
type Map map[string]*big.Int

// New returns an empty balance map.
func New() Map {
	return make(Map)
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the receiver.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Get returns the balance for a publisher, or zero if absent. The returned
// value is a fresh big.Int safe to mutate.
func (m Map) Get(publisher string) *big.Int {
	if v, ok := m[publisher]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Set assigns a balance, rejecting negative values.
func (m Map) Set(publisher string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.Wrapf(ErrNegativeBalance, "publisher %s", publisher)
	}
	m[publisher] = new(big.Int).Set(amount)
	return nil
}

// Sum returns the total of all entries.
func (m Map) Sum() *big.Int {
	total := big.NewInt(0)
	for _, v := range m {
		total.Add(total, v)
	}
	return total
}

// SortedKeys returns publisher identifiers in ascending lexicographic order.
// Every commitment and fee computation iterates balances in this order so
// both validators derive byte-identical output regardless of map iteration
// order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two maps hold identical non-zero entries.
func Equal(a, b Map) bool {
	if len(nonZero(a)) != len(nonZero(b)) {
		return false
	}
	for k, v := range nonZero(a) {
		ov, ok := nonZero(b)[k]
		if !ok || ov.Cmp(v) != 0 {
			return false
		}
	}
	return true
}

func nonZero(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		if v.Sign() != 0 {
			out[k] = v
		}
	}
	return out
}

// SaturatingAdd adds delta to the publisher's balance, clamping the *total*
// sum of the map to at most limit. If the addition would push the sum past
// limit, only the remaining headroom is credited and the excess is
// dropped. Returns the amount actually credited.
func (m Map) SaturatingAdd(publisher string, delta, limit *big.Int) *big.Int {
	headroom := new(big.Int).Sub(limit, m.Sum())
	if headroom.Sign() <= 0 {
		return big.NewInt(0)
	}

	credit := delta
	if delta.Cmp(headroom) > 0 {
		credit = headroom
	}

	next := new(big.Int).Add(m.Get(publisher), credit)
	m[publisher] = next

	return new(big.Int).Set(credit)
}

// MarshalJSON encodes the map as {"publisher": "decimal-string"}.
func (m Map) MarshalJSON() ([]byte, error) {
	strs := make(map[string]string, len(m))
	for k, v := range m {
		strs[k] = v.String()
	}
	return json.Marshal(strs)
}

// UnmarshalJSON decodes {"publisher": "decimal-string"}, rejecting negative
// or unparseable amounts.
func (m *Map) UnmarshalJSON(data []byte) error {
	var strs map[string]string
	if err := json.Unmarshal(data, &strs); err != nil {
		return errors.Wrap(err, "balance: decode map")
	}

	out := make(Map, len(strs))
	for k, s := range strs {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return errors.Errorf("balance: invalid amount %q for publisher %s", s, k)
		}
		if v.Sign() < 0 {
			return errors.Wrapf(ErrNegativeBalance, "publisher %s", k)
		}
		out[k] = v
	}

	*m = out
	return nil
}
