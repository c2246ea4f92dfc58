package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the size of an account identifier in bytes
const AddressLength = 20

// Address identifies an externally owned account or a deployed contract
type Address [AddressLength]byte

// ZeroAddress is never a valid receiver
var ZeroAddress Address

// BytesToAddress uses the trailing 20 bytes of b
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// ParseAddress decodes a 0x-prefixed hex address
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 2*AddressLength {
		return a, fmt.Errorf("invalid address %q", s)
	}
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress panics on malformed input; for fixtures and constants
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns the raw address bytes
func (a Address) Bytes() []byte { return a[:] }

// IsZero reports whether a is the zero address
func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex returns the lowercase 0x-prefixed encoding
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
