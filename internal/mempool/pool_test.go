package mempool

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// mockUTXOs is a simple in-memory UTXO provider for tests.
type mockUTXOs struct {
	utxos map[types.Outpoint]mockUTXO
}

type mockUTXO struct {
	value  uint64
	script types.Script
}

func newMockUTXOs() *mockUTXOs {
	return &mockUTXOs{utxos: make(map[types.Outpoint]mockUTXO)}
}

func (m *mockUTXOs) add(op types.Outpoint, value uint64, addr types.Address) {
	m.utxos[op] = mockUTXO{value: value, script: types.PayToAddress(addr)}
}

func (m *mockUTXOs) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	u, ok := m.utxos[op]
	if !ok {
		return 0, nil, fmt.Errorf("not found")
	}
	return u.value, u.script, nil
}

func (m *mockUTXOs) HasUTXO(op types.Outpoint) bool {
	_, ok := m.utxos[op]
	return ok
}

func addressFromKey(key *crypto.PrivateKey) types.Address {
	return crypto.AddressFromPubKey(key.PublicKey())
}

func outpoint(b byte) types.Outpoint {
	return types.Outpoint{TxHash: types.Hash{b}, Index: 0}
}

// buildTx creates a signed transaction spending the given outpoint.
func buildTx(t *testing.T, key *crypto.PrivateKey, prevOut types.Outpoint, outputValue uint64) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder().
		AddInput(prevOut).
		AddOutput(outputValue, types.PayToAddress(types.Address{0x99}))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return b.Build()
}

func TestPool_Add(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)

	fee, err := pool.Add(transaction)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
	if pool.Count() != 1 {
		t.Errorf("count = %d, want 1", pool.Count())
	}
}

func TestPool_Add_Duplicate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)

	pool.Add(transaction)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got: %v", err)
	}
}

func TestPool_Add_DoubleSpend(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)

	tx1 := buildTx(t, key, prevOut, 4000)
	tx2 := buildTx(t, key, prevOut, 3000)

	pool.Add(tx1)
	_, err := pool.Add(tx2)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestPool_Add_PoolFull(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	for i := 0; i < 3; i++ {
		utxos.add(outpoint(byte(i+1)), 5000, addr)
	}

	pool := New(utxos, 2)

	pool.Add(buildTx(t, key, outpoint(0x01), 4000))
	pool.Add(buildTx(t, key, outpoint(0x02), 4000))

	_, err := pool.Add(buildTx(t, key, outpoint(0x03), 4000))
	if !errors.Is(err, ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got: %v", err)
	}
}

func TestPool_Add_ValidationFailure(t *testing.T) {
	utxos := newMockUTXOs() // Empty — no UTXOs.
	pool := New(utxos, 100)

	key, _ := crypto.GenerateKey()
	transaction := buildTx(t, key, outpoint(0x01), 1000)

	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestPool_Remove(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)
	pool.Add(transaction)

	pool.Remove(transaction.Hash())
	if pool.Count() != 0 {
		t.Errorf("count = %d, want 0", pool.Count())
	}
	if pool.Has(transaction.Hash()) {
		t.Error("Has should return false after Remove")
	}
}

func TestPool_Remove_ClearsConflictIndex(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)

	tx1 := buildTx(t, key, prevOut, 4000)
	pool.Add(tx1)
	pool.Remove(tx1.Hash())

	tx2 := buildTx(t, key, prevOut, 3000)
	_, err := pool.Add(tx2)
	if err != nil {
		t.Fatalf("Add after Remove should succeed: %v", err)
	}
}

func TestPool_RemoveConfirmed(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 5000, addr)
	utxos.add(outpoint(0x02), 3000, addr)

	pool := New(utxos, 100)

	tx1 := buildTx(t, key, outpoint(0x01), 4000)
	tx2 := buildTx(t, key, outpoint(0x02), 2000)
	pool.Add(tx1)
	pool.Add(tx2)

	pool.RemoveConfirmed([]*tx.Transaction{tx1})
	if pool.Count() != 1 {
		t.Errorf("count = %d, want 1", pool.Count())
	}
	if pool.Has(tx1.Hash()) {
		t.Error("tx1 should be removed")
	}
	if !pool.Has(tx2.Hash()) {
		t.Error("tx2 should still be in pool")
	}
}

func TestPool_Has(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)

	if pool.Has(transaction.Hash()) {
		t.Error("Has should return false before Add")
	}
	pool.Add(transaction)
	if !pool.Has(transaction.Hash()) {
		t.Error("Has should return true after Add")
	}
}

func TestPool_Get(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)
	pool.Add(transaction)

	got := pool.Get(transaction.Hash())
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Hash() != transaction.Hash() {
		t.Error("Get returned wrong transaction")
	}

	missing := pool.Get(types.Hash{0xff})
	if missing != nil {
		t.Error("Get should return nil for unknown hash")
	}
}

func TestPool_SelectForBlock(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 5000, addr)
	utxos.add(outpoint(0x02), 3000, addr)
	utxos.add(outpoint(0x03), 8000, addr)

	pool := New(utxos, 100)

	tx1 := buildTx(t, key, outpoint(0x01), 4000) // fee 1000
	tx2 := buildTx(t, key, outpoint(0x02), 2500) // fee 500
	tx3 := buildTx(t, key, outpoint(0x03), 5000) // fee 3000

	pool.Add(tx1)
	pool.Add(tx2)
	pool.Add(tx3)

	selected := pool.SelectForBlock(2)
	if len(selected) != 2 {
		t.Fatalf("selected %d, want 2", len(selected))
	}
	if selected[0].Hash() != tx3.Hash() {
		t.Error("highest fee-rate tx should be first")
	}
	if selected[1].Hash() != tx1.Hash() {
		t.Error("second highest fee-rate tx should be second")
	}
}

func TestPool_SelectForBlock_TiesBrokenByInsertionOrder(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 5000, addr)
	utxos.add(outpoint(0x02), 3000, addr)

	pool := New(utxos, 100)

	// Same shape, same fee: identical fee rate. Insertion order decides.
	txFirst := buildTx(t, key, outpoint(0x01), 4500)  // fee 500
	txSecond := buildTx(t, key, outpoint(0x02), 2500) // fee 500

	if _, err := pool.Add(txFirst); err != nil {
		t.Fatalf("Add(txFirst): %v", err)
	}
	if _, err := pool.Add(txSecond); err != nil {
		t.Fatalf("Add(txSecond): %v", err)
	}

	selected := pool.SelectForBlock(2)
	if len(selected) != 2 {
		t.Fatalf("selected %d, want 2", len(selected))
	}
	if selected[0].Hash() != txFirst.Hash() {
		t.Error("tx admitted earlier should win an equal fee-rate tie")
	}
	if selected[1].Hash() != txSecond.Hash() {
		t.Error("tx admitted later should come second in an equal fee-rate tie")
	}
}

func TestPool_SelectForBlock_LimitExceedsPool(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 5000, addr)

	pool := New(utxos, 100)
	pool.Add(buildTx(t, key, outpoint(0x01), 4000))

	selected := pool.SelectForBlock(100)
	if len(selected) != 1 {
		t.Errorf("selected %d, want 1", len(selected))
	}
}

func TestPool_Evict(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	for i := 0; i < 5; i++ {
		utxos.add(outpoint(byte(i+1)), uint64(5000+i*1000), addr)
	}

	pool := New(utxos, 5)

	for i := 0; i < 5; i++ {
		pool.Add(buildTx(t, key, outpoint(byte(i+1)), 4000))
	}

	if pool.Count() != 5 {
		t.Fatalf("count = %d, want 5", pool.Count())
	}

	pool.maxSize = 3
	evicted := pool.Evict()
	if evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if pool.Count() != 3 {
		t.Errorf("count after evict = %d, want 3", pool.Count())
	}
}

func TestPool_Evict_NotNeeded(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 5000, addr)

	pool := New(utxos, 100)
	pool.Add(buildTx(t, key, outpoint(0x01), 4000))

	evicted := pool.Evict()
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
}

func TestPolicy_Check(t *testing.T) {
	key, _ := crypto.GenerateKey()

	b := tx.NewBuilder().
		AddInput(outpoint(0x01)).
		PayToAddress(1000, types.Address{0x02})
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	policy := DefaultPolicy()
	if err := policy.Check(transaction); err != nil {
		t.Errorf("valid tx should pass policy: %v", err)
	}

	policy.MaxTxSize = 1
	if err := policy.Check(transaction); err == nil {
		t.Error("oversized tx should fail policy")
	}
}

func TestNew_DefaultMaxSize(t *testing.T) {
	utxos := newMockUTXOs()
	pool := New(utxos, 0) // Should default to 5000.
	if pool.maxSize != 5000 {
		t.Errorf("maxSize = %d, want 5000", pool.maxSize)
	}
}

func TestPool_MinFeeRate_Reject(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	pool.SetMinFeeRate(12)

	transaction := buildTx(t, key, prevOut, 4000)
	_, err := pool.Add(transaction)
	if !errors.Is(err, ErrFeeTooLow) {
		t.Errorf("expected ErrFeeTooLow, got: %v", err)
	}
}

func TestPool_MinFeeRate_Accept(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	pool.SetMinFeeRate(1)

	transaction := buildTx(t, key, prevOut, 4000)
	fee, err := pool.Add(transaction)
	if err != nil {
		t.Fatalf("Add should pass: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
}

func TestPool_GetFee(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := outpoint(0x01)
	utxos.add(prevOut, 5000, addr)

	pool := New(utxos, 100)
	transaction := buildTx(t, key, prevOut, 4000)
	pool.Add(transaction)

	txHash := transaction.Hash()
	if got := pool.GetFee(txHash); got != 1000 {
		t.Errorf("GetFee = %d, want 1000", got)
	}
	if got := pool.GetFee(types.Hash{0xff}); got != 0 {
		t.Errorf("GetFee for unknown = %d, want 0", got)
	}
}

func TestPolicy_Check_TooManyInputs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := tx.NewBuilder().PayToAddress(1000, types.Address{0x02})
	for i := 0; i < config.MaxTxInputs+1; i++ {
		b.AddInput(types.Outpoint{TxHash: types.Hash{byte(i >> 8), byte(i)}, Index: uint32(i)})
	}
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	policy := DefaultPolicy()
	err := policy.Check(transaction)
	if err == nil || !strings.Contains(err.Error(), "too many inputs") {
		t.Errorf("expected too many inputs error, got: %v", err)
	}
}

func TestPolicy_Check_TooManyOutputs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := tx.NewBuilder().AddInput(outpoint(0x01))
	for i := 0; i < config.MaxTxOutputs+1; i++ {
		b.PayToAddress(1, types.Address{byte(i)})
	}
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	policy := DefaultPolicy()
	err := policy.Check(transaction)
	if err == nil || !strings.Contains(err.Error(), "too many outputs") {
		t.Errorf("expected too many outputs error, got: %v", err)
	}
}

func TestPool_EvictLowestFeeRate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	utxos.add(outpoint(0x01), 2000, addr)
	utxos.add(outpoint(0x02), 4000, addr)
	utxos.add(outpoint(0x03), 8000, addr)

	pool := New(utxos, 2)

	tx1 := buildTx(t, key, outpoint(0x01), 1000) // fee 1000 (low)
	tx2 := buildTx(t, key, outpoint(0x02), 1000) // fee 3000 (medium)

	if _, err := pool.Add(tx1); err != nil {
		t.Fatalf("Add tx1: %v", err)
	}
	if _, err := pool.Add(tx2); err != nil {
		t.Fatalf("Add tx2: %v", err)
	}

	if pool.Count() != 2 {
		t.Fatalf("pool count = %d, want 2", pool.Count())
	}

	tx3 := buildTx(t, key, outpoint(0x03), 1000) // fee 7000 (high)
	if _, err := pool.Add(tx3); err != nil {
		t.Fatalf("Add tx3: %v", err)
	}

	if pool.Has(tx1.Hash()) {
		t.Error("tx1 should have been evicted (lowest fee rate)")
	}
	if !pool.Has(tx2.Hash()) {
		t.Error("tx2 should still be present")
	}
	if !pool.Has(tx3.Hash()) {
		t.Error("tx3 should be present")
	}
	if pool.Count() != 2 {
		t.Errorf("pool count = %d, want 2", pool.Count())
	}
}

func TestPolicy_Check_ScriptDataTooLarge(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := tx.NewBuilder().
		AddInput(outpoint(0x01)).
		AddOutput(1000, make(types.Script, config.MaxScriptData+1))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	policy := DefaultPolicy()
	err := policy.Check(transaction)
	if err == nil || !strings.Contains(err.Error(), "script data too large") {
		t.Errorf("expected script data too large error, got: %v", err)
	}
}
