package clusterstate

import (
	"sync"

	"github.com/langdead/certificate-transparency/internal/logclient"
	"github.com/langdead/certificate-transparency/internal/sth"
)

// PeerEntry is one row of the PeerRegistry: a peer's last-seen
// ClusterNodeState plus the AsyncLogClient handle bound to its (host,
// port). It carries its own lock (distinct from the controller's mutex) so
// that a read of peer state during serving-STH computation does not
// contend with a watcher callback updating a different peer.
//
// Grounded on the reference implementation's ClusterPeer: a Peer holding
// its own mutex around a ClusterNodeState, constructed with a client bound
// to the peer's advertised address.
type PeerEntry struct {
	mu     sync.Mutex
	state  sth.ClusterNodeState
	client *logclient.AsyncLogClient
}

func newPeerEntry(state sth.ClusterNodeState, client *logclient.AsyncLogClient) *PeerEntry {
	return &PeerEntry{state: state, client: client}
}

// State returns a copy of the peer's last-seen ClusterNodeState.
func (p *PeerEntry) State() sth.ClusterNodeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HostPort returns the (hostname, port) this entry's client is bound to.
func (p *PeerEntry) HostPort() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Hostname, p.state.LogPort
}

// updateState replaces the stored ClusterNodeState in place. The caller
// must already have checked that hostname and port are unchanged;
// updateState enforces it again as a precondition (fatal otherwise).
func (p *PeerEntry) updateState(newState sth.ClusterNodeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Hostname != newState.Hostname || p.state.LogPort != newState.LogPort {
		panic("clusterstate: updateState called with a changed (host, port); caller must rebind instead")
	}
	p.state = newState
}

// Close releases the peer's AsyncLogClient.
func (p *PeerEntry) Close() {
	p.client.Close()
}
