package clusterstate

import (
	"fmt"
	"sort"

	"github.com/langdead/certificate-transparency/internal/sth"
)

type sizeBest struct {
	head   sth.SignedTreeHead
	nodeID string
}

// calculateServingSTH is the pure function at the heart of the controller:
// given a snapshot of all known peers, the current quorum policy, the STH
// currently advertised by the cluster, and the STH this node last
// calculated, it decides whether a new candidate serving STH can be
// accepted. cfg == nil means no ClusterConfig has ever been received; that
// is treated as "never find a candidate" rather than as a
// trivially-satisfied all-zero policy.
//
// Grounded on ClusterStateController::CalculateServingSTH from the
// reference implementation; ties in "best STH at a given size" are broken
// by the lexicographically smallest node-id, which the C++ source left
// arbitrary.
func calculateServingSTH(peers map[string]*PeerEntry, cfg *sth.ClusterConfig, actual, calculated *sth.SignedTreeHead) (*sth.SignedTreeHead, bool) {
	if cfg == nil {
		return nil, false
	}

	countBySize := make(map[int64]int)
	bestAtSize := make(map[int64]sizeBest)

	for id, peer := range peers {
		state := peer.State()
		if state.NewestSTH == nil {
			continue
		}
		ns := *state.NewestSTH
		if ns.TreeSize < 0 || ns.Timestamp < 0 {
			panic(fmt.Sprintf("clusterstate: peer %q published an STH with a negative tree_size or timestamp", id))
		}

		countBySize[ns.TreeSize]++
		cur, exists := bestAtSize[ns.TreeSize]
		if !exists || ns.Timestamp > cur.head.Timestamp || (ns.Timestamp == cur.head.Timestamp && id < cur.nodeID) {
			bestAtSize[ns.TreeSize] = sizeBest{head: ns, nodeID: id}
		}
	}

	sizes := make([]int64, 0, len(countBySize))
	for size := range countBySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })

	var currentSize int64
	if calculated != nil {
		currentSize = calculated.TreeSize
	}

	totalPeers := len(peers)
	nodesSeen := 0
	for _, size := range sizes {
		if size < currentSize {
			break
		}
		nodesSeen += countBySize[size]

		fraction := float64(nodesSeen) / float64(totalPeers)
		if fraction < cfg.MinimumServingFraction || nodesSeen < cfg.MinimumServingNodes {
			continue
		}

		candidate := bestAtSize[size].head
		if actual != nil && candidate.Timestamp <= actual.Timestamp {
			continue
		}

		return &candidate, true
	}

	return nil, false
}
