package storage

import (
	"errors"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Used for tests.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	type kv struct{ k, v []byte }
	p := string(prefix)
	var snapshot []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			snapshot = append(snapshot, kv{[]byte(k), v})
		}
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

// Update runs fn against a transaction over this map, holding the write
// lock for the duration. If fn returns an error, every write it made is
// rolled back before Update returns it.
func (m *MemoryDB) Update(fn func(Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := &memTxn{db: m}
	if err := fn(txn); err != nil {
		txn.rollback()
		return err
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// memTxn implements Txn directly against MemoryDB.data, recording an undo
// log so Update can roll back a failed transaction. Callers must hold
// db.mu for the lifetime of the transaction.
type memTxn struct {
	db   *MemoryDB
	undo []func()
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	v, ok := t.db.data[string(key)]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

func (t *memTxn) Put(key, value []byte) error {
	k := string(key)
	old, existed := t.db.data[k]
	if existed {
		t.undo = append(t.undo, func() { t.db.data[k] = old })
	} else {
		t.undo = append(t.undo, func() { delete(t.db.data, k) })
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.db.data[k] = v
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	k := string(key)
	old, existed := t.db.data[k]
	if !existed {
		return nil
	}
	t.undo = append(t.undo, func() { t.db.data[k] = old })
	delete(t.db.data, k)
	return nil
}

func (t *memTxn) Has(key []byte) (bool, error) {
	_, ok := t.db.data[string(key)]
	return ok, nil
}

func (t *memTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	for k, v := range t.db.data {
		if strings.HasPrefix(k, p) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memTxn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}
