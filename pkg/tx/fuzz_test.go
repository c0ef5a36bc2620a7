package tx

import (
	"encoding/json"
	"testing"

	"github.com/atmnchain/atmnd/pkg/types"
)

// FuzzTxUnmarshal tests that arbitrary JSON input does not panic when
// unmarshaled into a Transaction struct.
func FuzzTxUnmarshal(f *testing.F) {
	f.Add([]byte(`{"inputs":[{"prev_out":{"tx_hash":"0000000000000000000000000000000000000000000000000000000000000000","index":0}}],"outputs":[{"amount":1000,"pubkey_script":"0000000000000000000000000000000000000000"}]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"inputs":null,"outputs":null}`))
	f.Add([]byte(`{"inputs":[{"prev_out":{"tx_hash":"","index":0},"signature_script":""}],"outputs":[{"amount":0}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var txn Transaction
		if err := json.Unmarshal(data, &txn); err != nil {
			return
		}
		// If unmarshal succeeded, these must not panic.
		txn.Hash()
		txn.SigningBytes()
		txn.Serialize()
		txn.Validate()
	})
}

// FuzzTxDeserialize tests that arbitrary binary input does not panic when
// decoded with Deserialize.
func FuzzTxDeserialize(f *testing.F) {
	seed := NewBuilder().
		AddInput(types.Outpoint{TxHash: types.Hash{0x01}, Index: 0}).
		PayToAddress(1000, types.Address{0x02}).
		Build()
	f.Add(seed.Serialize())

	f.Add([]byte{})
	f.Add([]byte{0x01, 0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		txn, err := Deserialize(data)
		if err != nil {
			return
		}
		txn.Hash()
		txn.Validate()
	})
}
