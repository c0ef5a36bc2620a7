package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// Script is an opaque output or input script. Output scripts are byte
// strings compared for equality; a standard one is the 20-byte address
// itself — there is no scripting language to interpret.
type Script []byte

// Equal reports whether two scripts are byte-identical.
func (s Script) Equal(o Script) bool {
	return bytes.Equal(s, o)
}

// Address returns the address a standard pay-to-address script pays to.
// A standard script is exactly AddressSize bytes — the address itself.
// Non-standard scripts (any other length) have no derivable address.
func (s Script) Address() (Address, bool) {
	if len(s) != AddressSize {
		return Address{}, false
	}
	var a Address
	copy(a[:], s)
	return a, true
}

// PayToAddress builds the standard output script paying to addr.
func PayToAddress(addr Address) Script {
	return append(Script(nil), addr[:]...)
}

// MarshalJSON encodes the script as a hex string.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s))
}

// UnmarshalJSON decodes a hex string into a script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = nil
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	*s = b
	return nil
}
