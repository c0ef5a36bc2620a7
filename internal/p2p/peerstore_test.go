package p2p

import (
	"testing"
	"time"

	"github.com/atmnchain/atmnd/internal/storage"
)

func TestPeerStore_SaveLoad(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())

	rec := PeerRecord{Addr: "1.2.3.4:8333", NodeID: 42, LastSeen: time.Now().Unix(), Source: "seed"}
	if err := ps.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := ps.Load("1.2.3.4:8333")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.NodeID != 42 {
		t.Fatalf("NodeID = %d, want 42", got.NodeID)
	}
}

func TestPeerStore_PruneStale(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	old := PeerRecord{Addr: "1.1.1.1:1", LastSeen: time.Now().Add(-48 * time.Hour).Unix()}
	fresh := PeerRecord{Addr: "2.2.2.2:2", LastSeen: time.Now().Unix()}
	ps.Save(old)
	ps.Save(fresh)

	n, err := ps.PruneStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}

	if _, err := ps.Load("2.2.2.2:2"); err != nil {
		t.Fatalf("fresh record should survive: %v", err)
	}
}

func TestBanStore_PutGetPruneExpired(t *testing.T) {
	bs := NewBanStore(storage.NewMemory())
	expired := &BanRecord{IP: "3.3.3.3", Reason: "test", ExpiresAt: time.Now().Add(-time.Hour).Unix()}
	active := &BanRecord{IP: "4.4.4.4", Reason: "test", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	bs.Put(expired)
	bs.Put(active)

	n, err := bs.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, err := bs.Get("4.4.4.4"); err != nil {
		t.Fatalf("active ban should survive: %v", err)
	}
}
