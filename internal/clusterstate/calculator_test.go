package clusterstate

import (
	"testing"

	"github.com/langdead/certificate-transparency/internal/logclient"
	"github.com/langdead/certificate-transparency/internal/sth"
)

func peerWithSTH(id string, treeSize, timestamp int64) *PeerEntry {
	head := sth.SignedTreeHead{TreeSize: treeSize, Timestamp: timestamp}
	state := sth.ClusterNodeState{Hostname: "h-" + id, LogPort: 8080, NewestSTH: &head}
	return newPeerEntry(state, logclient.New(state.Hostname, state.LogPort))
}

func peerWithoutSTH(id string) *PeerEntry {
	state := sth.ClusterNodeState{Hostname: "h-" + id, LogPort: 8080}
	return newPeerEntry(state, logclient.New(state.Hostname, state.LogPort))
}

func TestCalculateServingSTH(t *testing.T) {
	tests := []struct {
		name       string
		peers      map[string]*PeerEntry
		cfg        *sth.ClusterConfig
		actual     *sth.SignedTreeHead
		calculated *sth.SignedTreeHead
		wantOK     bool
		wantSize   int64
		wantTS     int64
		wantKeyID  string
	}{
		{
			name:   "no config received yet",
			peers:  map[string]*PeerEntry{"a": peerWithSTH("a", 10, 100)},
			cfg:    nil,
			wantOK: false,
		},
		{
			name:   "no peer has published an STH",
			peers:  map[string]*PeerEntry{"a": peerWithoutSTH("a")},
			cfg:    &sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0},
			wantOK: false,
		},
		{
			name: "quorum reached at the largest common size",
			peers: map[string]*PeerEntry{
				"a": peerWithSTH("a", 10, 100),
				"b": peerWithSTH("b", 10, 100),
				"c": peerWithSTH("c", 8, 90),
			},
			cfg:      &sth.ClusterConfig{MinimumServingNodes: 2, MinimumServingFraction: 0},
			wantOK:   true,
			wantSize: 10,
			wantTS:   100,
		},
		{
			name: "fraction threshold requires accumulating smaller sizes",
			peers: map[string]*PeerEntry{
				"a": peerWithSTH("a", 10, 100),
				"b": peerWithSTH("b", 8, 90),
				"c": peerWithSTH("c", 8, 90),
			},
			cfg:      &sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 1.0},
			wantOK:   true,
			wantSize: 8,
			wantTS:   90,
		},
		{
			name: "R4 rejects a candidate not strictly newer than the actual STH",
			peers: map[string]*PeerEntry{
				"a": peerWithSTH("a", 10, 100),
				"b": peerWithSTH("b", 8, 200),
				"c": peerWithSTH("c", 8, 200),
			},
			cfg:      &sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0},
			actual:   &sth.SignedTreeHead{TreeSize: 10, Timestamp: 100},
			wantOK:   true,
			wantSize: 8,
			wantTS:   200,
		},
		{
			name: "minimum nodes unreachable",
			peers: map[string]*PeerEntry{
				"a": peerWithSTH("a", 10, 100),
			},
			cfg:    &sth.ClusterConfig{MinimumServingNodes: 5, MinimumServingFraction: 0},
			wantOK: false,
		},
		{
			name: "tie at the same size and timestamp breaks to smallest node id",
			peers: map[string]*PeerEntry{
				"zzz": newPeerEntry(sth.ClusterNodeState{Hostname: "h-zzz", LogPort: 8080, NewestSTH: &sth.SignedTreeHead{TreeSize: 10, Timestamp: 100, KeyID: "zzz"}}, logclient.New("h-zzz", 8080)),
				"aaa": newPeerEntry(sth.ClusterNodeState{Hostname: "h-aaa", LogPort: 8080, NewestSTH: &sth.SignedTreeHead{TreeSize: 10, Timestamp: 100, KeyID: "aaa"}}, logclient.New("h-aaa", 8080)),
			},
			cfg:       &sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0},
			wantOK:    true,
			wantSize:  10,
			wantTS:    100,
			wantKeyID: "aaa",
		},
		{
			name: "search never descends below the previously calculated size",
			peers: map[string]*PeerEntry{
				"a": peerWithSTH("a", 5, 50),
			},
			cfg:        &sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0},
			calculated: &sth.SignedTreeHead{TreeSize: 10, Timestamp: 100},
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calculateServingSTH(tt.peers, tt.cfg, tt.actual, tt.calculated)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.TreeSize != tt.wantSize || got.Timestamp != tt.wantTS {
				t.Fatalf("got (size=%d, ts=%d), want (size=%d, ts=%d)", got.TreeSize, got.Timestamp, tt.wantSize, tt.wantTS)
			}
			if tt.wantKeyID != "" && got.KeyID != tt.wantKeyID {
				t.Fatalf("got STH from key_id %q, want %q", got.KeyID, tt.wantKeyID)
			}
		})
	}
}

func TestCalculateServingSTHRejectsNegativeInvariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative tree_size")
		}
	}()

	peers := map[string]*PeerEntry{"a": peerWithSTH("a", -1, 100)}
	calculateServingSTH(peers, &sth.ClusterConfig{}, nil, nil)
}
