package utxo

import (
	"testing"

	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxHash: crypto.Hash([]byte(data)),
		Index:  index,
	}
}

func makeUTXO(data string, index uint32, value uint64) *UTXO {
	var addr types.Address
	copy(addr[:], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14})
	return &UTXO{
		Outpoint: makeOutpoint(data, index),
		Value:    value,
		Script:   types.PayToAddress(addr),
		Height:   1,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 5000)

	err := s.Put(u)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.Value != u.Value {
		t.Errorf("Value = %d, want %d", got.Value, u.Value)
	}
	if got.Outpoint != u.Outpoint {
		t.Error("Outpoint mismatch")
	}
	if got.Height != u.Height {
		t.Errorf("Height = %d, want %d", got.Height, u.Height)
	}
}

func TestStore_GetNonexistent(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(makeOutpoint("missing", 0))
	if err == nil {
		t.Error("Get() for nonexistent UTXO should return error")
	}
}

func TestStore_Has(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("Has() should be false before Put()")
	}

	s.Put(u)

	ok, err := s.Has(u.Outpoint)
	if err != nil {
		t.Fatalf("Has() error: %v", err)
	}
	if !ok {
		t.Error("Has() should be true after Put()")
	}
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	s.Put(u)

	err := s.Delete(u.Outpoint)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("UTXO should be gone after Delete()")
	}
}

func TestStore_MultipleOutputs(t *testing.T) {
	s := testStore(t)

	// Same tx, different output indices.
	u0 := makeUTXO("tx1", 0, 1000)
	u1 := makeUTXO("tx1", 1, 2000)
	u2 := makeUTXO("tx1", 2, 3000)

	s.Put(u0)
	s.Put(u1)
	s.Put(u2)

	got0, _ := s.Get(u0.Outpoint)
	got1, _ := s.Get(u1.Outpoint)
	got2, _ := s.Get(u2.Outpoint)

	if got0.Value != 1000 || got1.Value != 2000 || got2.Value != 3000 {
		t.Error("values mismatch for multi-output tx")
	}

	// Delete middle one.
	s.Delete(u1.Outpoint)

	ok, _ := s.Has(u1.Outpoint)
	if ok {
		t.Error("deleted output should be gone")
	}

	// Others should remain.
	ok0, _ := s.Has(u0.Outpoint)
	ok2, _ := s.Has(u2.Outpoint)
	if !ok0 || !ok2 {
		t.Error("non-deleted outputs should remain")
	}
}

func TestStore_ImplementsSet(t *testing.T) {
	// Compile-time check that Store satisfies Set.
	var _ Set = (*Store)(nil)
}

func TestStore_GetByAddress(t *testing.T) {
	s := testStore(t)

	var addr types.Address
	copy(addr[:], []byte("some-test-address-20"))

	u1 := &UTXO{Outpoint: makeOutpoint("addr-tx1", 0), Value: 100, Script: types.PayToAddress(addr)}
	u2 := &UTXO{Outpoint: makeOutpoint("addr-tx2", 0), Value: 200, Script: types.PayToAddress(addr)}

	s.Put(u1)
	s.Put(u2)

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByAddress() returned %d UTXOs, want 2", len(got))
	}

	var total uint64
	for _, u := range got {
		total += u.Value
	}
	if total != 300 {
		t.Errorf("total = %d, want 300", total)
	}
}

func TestStore_GetByAddress_Empty(t *testing.T) {
	s := testStore(t)

	var addr types.Address
	copy(addr[:], []byte("unused-address-2025"))

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetByAddress() = %d, want 0", len(got))
	}
}

func TestStore_Delete_RemovesAddressIndex(t *testing.T) {
	s := testStore(t)

	var addr types.Address
	copy(addr[:], []byte("delete-index-address"))

	u := &UTXO{Outpoint: makeOutpoint("del-idx-tx", 0), Value: 500, Script: types.PayToAddress(addr)}
	s.Put(u)

	if err := s.Delete(u.Outpoint); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetByAddress() after delete = %d, want 0", len(got))
	}
}

func TestStore_ForEach(t *testing.T) {
	s := testStore(t)

	s.Put(makeUTXO("fe1", 0, 10))
	s.Put(makeUTXO("fe2", 0, 20))
	s.Put(makeUTXO("fe3", 0, 30))

	var count int
	var total uint64
	err := s.ForEach(func(u *UTXO) error {
		count++
		total += u.Value
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error: %v", err)
	}
	if count != 3 {
		t.Errorf("ForEach() visited %d, want 3", count)
	}
	if total != 60 {
		t.Errorf("ForEach() total = %d, want 60", total)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := testStore(t)

	var addr types.Address
	copy(addr[:], []byte("clear-all-address-xx"))

	s.Put(&UTXO{Outpoint: makeOutpoint("clear1", 0), Value: 1, Script: types.PayToAddress(addr)})
	s.Put(&UTXO{Outpoint: makeOutpoint("clear2", 0), Value: 2, Script: types.PayToAddress(addr)})

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error: %v", err)
	}

	var count int
	s.ForEach(func(u *UTXO) error { count++; return nil })
	if count != 0 {
		t.Errorf("ForEach() after ClearAll = %d, want 0", count)
	}

	got, _ := s.GetByAddress(addr)
	if len(got) != 0 {
		t.Errorf("GetByAddress() after ClearAll = %d, want 0", len(got))
	}
}

func TestStore_WithTxn_CommitsThroughUpdate(t *testing.T) {
	db := storage.NewMemory()
	u := makeUTXO("txn-tx", 0, 777)

	err := db.Update(func(txn storage.Txn) error {
		return WithTxn(txn).Put(u)
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := NewStore(db).Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() after txn commit error: %v", err)
	}
	if got.Value != 777 {
		t.Errorf("Value = %d, want 777", got.Value)
	}
}

func TestStore_WithTxn_RollsBackOnError(t *testing.T) {
	db := storage.NewMemory()
	u := makeUTXO("txn-rollback", 0, 123)
	boom := errBoomUTXO{}

	err := db.Update(func(txn storage.Txn) error {
		if err := WithTxn(txn).Put(u); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	ok, _ := NewStore(db).Has(u.Outpoint)
	if ok {
		t.Error("UTXO should not exist after rolled-back transaction")
	}
}

type errBoomUTXO struct{}

func (errBoomUTXO) Error() string { return "boom" }
