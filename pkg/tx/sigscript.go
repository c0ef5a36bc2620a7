package tx

import "fmt"

// sigLen and pubKeyLen are the fixed Schnorr signature and compressed
// secp256k1 public key sizes. A signature script for a non-coinbase input
// is always their concatenation: signature || pubkey.
const (
	sigLen    = 64
	pubKeyLen = 33
	sigScriptLen = sigLen + pubKeyLen
)

// PackSignatureScript concatenates a Schnorr signature and compressed
// public key into the form stored in Input.SignatureScript.
func PackSignatureScript(sig, pubKey []byte) ([]byte, error) {
	if len(sig) != sigLen {
		return nil, fmt.Errorf("tx: signature must be %d bytes, got %d", sigLen, len(sig))
	}
	if len(pubKey) != pubKeyLen {
		return nil, fmt.Errorf("tx: public key must be %d bytes, got %d", pubKeyLen, len(pubKey))
	}
	out := make([]byte, 0, sigScriptLen)
	out = append(out, sig...)
	out = append(out, pubKey...)
	return out, nil
}

// UnpackSignatureScript splits a signature script into its signature and
// public key components.
func UnpackSignatureScript(script []byte) (sig, pubKey []byte, err error) {
	if len(script) != sigScriptLen {
		return nil, nil, fmt.Errorf("tx: signature script must be %d bytes, got %d", sigScriptLen, len(script))
	}
	return script[:sigLen], script[sigLen:], nil
}
