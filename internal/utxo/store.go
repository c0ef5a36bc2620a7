package utxo

import (
	"encoding/json"
	"fmt"

	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Key prefixes for the UTXO store.
var (
	prefixUTXO = []byte("u/") // u/<txhash_hex>:<index> -> UTXO JSON
	prefixAddr = []byte("a/") // a/<address>/<txhash_hex>:<index> -> empty (index)
)

// kvStore is the subset of storage.DB that Store needs. Both storage.DB
// and storage.Txn satisfy it, so a Store can sit directly on the database
// or be scoped to one atomic transaction via WithTxn.
type kvStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

// Store implements Set backed by a storage.DB (or, via WithTxn, a single
// storage.Txn, so UTXO writes commit atomically alongside whatever else
// the caller does in the same transaction).
type Store struct {
	db kvStore
}

// NewStore creates a new UTXO store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// WithTxn returns a Store whose writes land in txn instead of the
// underlying database directly. Used by chain.Chain to fold UTXO set
// updates into the same atomic transaction as the block and address
// index writes when connecting a block.
func WithTxn(txn storage.Txn) *Store {
	return &Store{db: txn}
}

// utxoKey builds a storage key for an outpoint: "u/" + "txhash_hex:index".
func utxoKey(op types.Outpoint) []byte {
	return append(append([]byte{}, prefixUTXO...), op.Key()...)
}

// addrKey builds an address index key: "a/" + address + "/" + "txhash_hex:index".
func addrKey(addr types.Address, op types.Outpoint) []byte {
	key := append([]byte{}, prefixAddr...)
	key = append(key, addr.String()...)
	key = append(key, '/')
	key = append(key, op.Key()...)
	return key
}

// addrPrefix builds the address index scan prefix: "a/" + address + "/".
func addrPrefix(addr types.Address) []byte {
	key := append([]byte{}, prefixAddr...)
	key = append(key, addr.String()...)
	key = append(key, '/')
	return key
}

// Get retrieves a UTXO by its outpoint.
func (s *Store) Get(outpoint types.Outpoint) (*UTXO, error) {
	data, err := s.db.Get(utxoKey(outpoint))
	if err != nil {
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	var u UTXO
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("utxo unmarshal: %w", err)
	}
	return &u, nil
}

// Put stores a UTXO and updates the address index.
func (s *Store) Put(u *UTXO) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("utxo marshal: %w", err)
	}
	if err := s.db.Put(utxoKey(u.Outpoint), data); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}

	if addr, ok := u.Script.Address(); ok {
		if err := s.db.Put(addrKey(addr, u.Outpoint), []byte{}); err != nil {
			return fmt.Errorf("utxo index put: %w", err)
		}
	}

	return nil
}

// Delete removes a UTXO and its address index entry.
func (s *Store) Delete(outpoint types.Outpoint) error {
	// Read first so the address index entry can be found and removed too.
	u, err := s.Get(outpoint)
	if err == nil {
		if addr, ok := u.Script.Address(); ok {
			s.db.Delete(addrKey(addr, u.Outpoint))
		}
	}

	if err := s.db.Delete(utxoKey(outpoint)); err != nil {
		return fmt.Errorf("utxo delete: %w", err)
	}
	return nil
}

// Has checks if a UTXO exists for the given outpoint.
func (s *Store) Has(outpoint types.Outpoint) (bool, error) {
	return s.db.Has(utxoKey(outpoint))
}

// ForEach iterates over all UTXOs in the store.
func (s *Store) ForEach(fn func(*UTXO) error) error {
	return s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		var u UTXO
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("utxo unmarshal: %w", err)
		}
		return fn(&u)
	})
}

// ClearAll removes every UTXO and address index entry.
func (s *Store) ClearAll() error {
	var keys [][]byte
	for _, prefix := range [][]byte{prefixUTXO, prefixAddr} {
		if err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		}); err != nil {
			return fmt.Errorf("scan prefix %s: %w", prefix, err)
		}
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("delete utxo key: %w", err)
		}
	}
	return nil
}

// GetByAddress returns all UTXOs belonging to the given address. It scans
// the address index and loads each referenced UTXO.
func (s *Store) GetByAddress(addr types.Address) ([]*UTXO, error) {
	var utxos []*UTXO
	err := s.db.ForEach(addrPrefix(addr), func(key, _ []byte) error {
		op, ok := parseIndexedOutpoint(key, addrPrefix(addr))
		if !ok {
			return nil // Malformed key, skip.
		}
		u, err := s.Get(op)
		if err != nil {
			return nil // UTXO may have been spent, skip.
		}
		utxos = append(utxos, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan address index: %w", err)
	}
	return utxos, nil
}

// parseIndexedOutpoint parses the "{tx_hash_hex}:{index}" suffix of an
// index key after its prefix.
func parseIndexedOutpoint(key, prefix []byte) (types.Outpoint, bool) {
	if len(key) <= len(prefix) {
		return types.Outpoint{}, false
	}
	return parseOutpointKey(string(key[len(prefix):]))
}

// parseOutpointKey parses "{tx_hash_hex}:{index}" into an Outpoint.
func parseOutpointKey(s string) (types.Outpoint, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			hash, err := types.HexToHash(s[:i])
			if err != nil {
				return types.Outpoint{}, false
			}
			var index uint32
			if _, err := fmt.Sscanf(s[i+1:], "%d", &index); err != nil {
				return types.Outpoint{}, false
			}
			return types.Outpoint{TxHash: hash, Index: index}, true
		}
	}
	return types.Outpoint{}, false
}
