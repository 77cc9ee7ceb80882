package clusterstate

import (
	"fmt"

	"github.com/langdead/certificate-transparency/internal/logclient"
	"github.com/langdead/certificate-transparency/internal/sth"
)

// PeerRegistry maintains all_peers: the mapping from node-id to PeerEntry,
// including the local node once its own state has been published. Callers
// must hold the controller's mutex across a call to ApplyUpdates;
// PeerRegistry itself does no locking of its own beyond each PeerEntry's
// inner lock, and follows a strict lock-ordering rule: controller mutex
// before PeerEntry lock, never the reverse.
//
// Grounded on ClusterStateController::OnClusterStateUpdated from the
// reference implementation.
type PeerRegistry struct {
	peers map[string]*PeerEntry
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]*PeerEntry)}
}

// Get returns the entry for id, if any.
func (r *PeerRegistry) Get(id string) (*PeerEntry, bool) {
	e, ok := r.peers[id]
	return e, ok
}

// Snapshot returns every currently-registered peer entry. The returned
// map is a point-in-time view; reading each entry's State() afterward may
// race with a concurrent update, which is fine — the caller (the
// calculator) is already built to operate on a coherent snapshot per
// invocation, not to assume no peer changes between invocations.
func (r *PeerRegistry) Snapshot() map[string]*PeerEntry {
	out := make(map[string]*PeerEntry, len(r.peers))
	for id, e := range r.peers {
		out[id] = e
	}
	return out
}

func (r *PeerRegistry) Len() int { return len(r.peers) }

// ApplyUpdates applies a batch of node-state Updates, as delivered by a
// single StoreWatcher callback. For each Exists=true update, it either
// constructs a new PeerEntry (first sighting, or a rebind that invalidated
// the previous entry's client), or updates the existing entry's state in
// place. For each Exists=false update, it removes the entry; removing an
// id that isn't present is a precondition violation (the store promised
// the key existed) and is fatal.
func (r *PeerRegistry) ApplyUpdates(updates []sth.Update[sth.ClusterNodeState]) {
	for _, u := range updates {
		if !u.Exists {
			entry, ok := r.peers[u.Key]
			if !ok {
				panic(fmt.Sprintf("clusterstate: node-state removal for unknown peer %q", u.Key))
			}
			entry.Close()
			delete(r.peers, u.Key)
			continue
		}

		if entry, ok := r.peers[u.Key]; ok {
			host, port := entry.HostPort()
			if host != u.Entry.Hostname || port != u.Entry.LogPort {
				entry.Close()
				delete(r.peers, u.Key)
			} else {
				entry.updateState(u.Entry)
				continue
			}
		}

		r.peers[u.Key] = newPeerEntry(u.Entry, logclient.New(u.Entry.Hostname, u.Entry.LogPort))
	}
}

// Close releases every peer's AsyncLogClient.
func (r *PeerRegistry) Close() {
	for _, e := range r.peers {
		e.Close()
	}
}
