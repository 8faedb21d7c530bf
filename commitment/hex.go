package commitment

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// ParseHex decodes a 64-character hex state root into its fixed-size form.
func ParseHex(s string) ([Size]byte, error) {
	var out [Size]byte

	b, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.Wrap(err, "commitment: decode hex state root")
	}
	if len(b) != Size {
		return out, errors.Errorf("commitment: state root must be %d bytes, got %d", Size, len(b))
	}

	copy(out[:], b)
	return out, nil
}

// String renders a state root as lowercase hex.
func String(root [Size]byte) string {
	return hex.EncodeToString(root[:])
}
