package clusterstate

import (
	"testing"

	"github.com/langdead/certificate-transparency/internal/sth"
)

func TestPeerRegistryApplyUpdatesAddsAndUpdates(t *testing.T) {
	r := NewPeerRegistry()

	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{
		{Key: "a", Exists: true, Entry: sth.ClusterNodeState{Hostname: "host-a", LogPort: 8080}},
	})
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	head := sth.SignedTreeHead{TreeSize: 5, Timestamp: 50}
	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{
		{Key: "a", Exists: true, Entry: sth.ClusterNodeState{Hostname: "host-a", LogPort: 8080, NewestSTH: &head}},
	})

	entry, ok := r.Get("a")
	if !ok {
		t.Fatal("expected entry \"a\" to exist")
	}
	if entry.State().NewestSTH == nil || entry.State().NewestSTH.TreeSize != 5 {
		t.Fatalf("entry state not updated in place: %+v", entry.State())
	}
}

func TestPeerRegistryRebindsOnAddressChange(t *testing.T) {
	r := NewPeerRegistry()
	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{
		{Key: "a", Exists: true, Entry: sth.ClusterNodeState{Hostname: "host-a", LogPort: 8080}},
	})
	before, _ := r.Get("a")

	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{
		{Key: "a", Exists: true, Entry: sth.ClusterNodeState{Hostname: "host-a-2", LogPort: 9090}},
	})
	after, ok := r.Get("a")
	if !ok {
		t.Fatal("expected entry \"a\" to still exist after rebind")
	}
	if after == before {
		t.Fatal("expected a fresh PeerEntry to be constructed on address change")
	}
	host, port := after.HostPort()
	if host != "host-a-2" || port != 9090 {
		t.Fatalf("HostPort() = (%q, %d), want (%q, %d)", host, port, "host-a-2", 9090)
	}
}

func TestPeerRegistryRemovalOfUnknownPeerIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic removing an unknown peer")
		}
	}()

	r := NewPeerRegistry()
	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{{Key: "ghost", Exists: false}})
}

func TestPeerRegistryRemoval(t *testing.T) {
	r := NewPeerRegistry()
	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{
		{Key: "a", Exists: true, Entry: sth.ClusterNodeState{Hostname: "host-a", LogPort: 8080}},
	})
	r.ApplyUpdates([]sth.Update[sth.ClusterNodeState]{{Key: "a", Exists: false}})

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected entry \"a\" to be gone")
	}
}
