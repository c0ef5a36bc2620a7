package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, so several
// logical keyspaces can share one physical database. The node's own stores
// do not use it; they write their own key prefixes directly.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

// prefixed returns key with the prefix prepended.
func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over all keys with the given prefix (within the PrefixDB namespace).
// The callback receives keys with the PrefixDB prefix stripped, so callers see only
// their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	fullPrefix := p.prefixed(prefix)
	return p.inner.ForEach(fullPrefix, func(key, value []byte) error {
		stripped := key[len(p.prefix):]
		return fn(stripped, value)
	})
}

// Update runs fn inside one atomic transaction of the inner DB, scoped to
// this namespace: every key fn reads or writes through the Txn gets the
// prefix prepended.
func (p *PrefixDB) Update(fn func(Txn) error) error {
	return p.inner.Update(func(inner Txn) error {
		return fn(&prefixTxn{inner: inner, prefix: p.prefix})
	})
}

// DeleteAll removes all keys under this PrefixDB's namespace from the inner DB.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.inner.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op — the outer DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// prefixTxn adapts a Txn to a namespace the same way PrefixDB adapts a DB.
type prefixTxn struct {
	inner  Txn
	prefix []byte
}

func (t *prefixTxn) prefixed(key []byte) []byte {
	out := make([]byte, len(t.prefix)+len(key))
	copy(out, t.prefix)
	copy(out[len(t.prefix):], key)
	return out
}

func (t *prefixTxn) Get(key []byte) ([]byte, error) {
	return t.inner.Get(t.prefixed(key))
}

func (t *prefixTxn) Put(key, value []byte) error {
	return t.inner.Put(t.prefixed(key), value)
}

func (t *prefixTxn) Delete(key []byte) error {
	return t.inner.Delete(t.prefixed(key))
}

func (t *prefixTxn) Has(key []byte) (bool, error) {
	return t.inner.Has(t.prefixed(key))
}

func (t *prefixTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	fullPrefix := t.prefixed(prefix)
	return t.inner.ForEach(fullPrefix, func(key, value []byte) error {
		stripped := key[len(t.prefix):]
		return fn(stripped, value)
	})
}
