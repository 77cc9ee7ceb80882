// Package sth defines the data model shared by the cluster state controller
// and its store/election/database collaborators: the Signed Tree Head, the
// per-node cluster state record, and the cluster-wide quorum configuration.
//
// None of these types carry a wire format of their own; the consistent
// store implementation (internal/consistentstore) decides how to encode
// them on the way in and out of etcd.
package sth

// SignedTreeHead is an opaque signed commitment to a Merkle tree's size and
// root hash at a point in time. The controller never signs or verifies the
// signature of an STH; it compares TreeSize and Timestamp, and, when
// reconciling with the local database, KeyID, Version and SHA256RootHash.
type SignedTreeHead struct {
	Timestamp      int64  `json:"timestamp"`
	TreeSize       int64  `json:"tree_size"`
	SHA256RootHash []byte `json:"sha256_root_hash"`
	Version        int32  `json:"version"`
	KeyID          string `json:"key_id"`
}

// Equal reports whether two STHs carry identical size and root hash, used
// when reconciling an incoming serving STH against the local database's
// record for the same timestamp.
func (s SignedTreeHead) Equal(o SignedTreeHead) bool {
	if s.TreeSize != o.TreeSize || len(s.SHA256RootHash) != len(o.SHA256RootHash) {
		return false
	}
	for i := range s.SHA256RootHash {
		if s.SHA256RootHash[i] != o.SHA256RootHash[i] {
			return false
		}
	}
	return true
}

// ClusterNodeState is the per-node record a node publishes to the
// consistent store: its transport address and the newest STH it knows of
// locally. NewestSTH is nil until the node has produced or replicated at
// least one STH.
type ClusterNodeState struct {
	Hostname  string          `json:"hostname"`
	LogPort   int             `json:"log_port"`
	NewestSTH *SignedTreeHead `json:"newest_sth,omitempty"`
}

// ClusterConfig holds the quorum policy knobs. A config update takes effect
// on the next serving-STH recomputation; there is no attempt at mid-decision
// atomicity with a safety-critical boundary.
type ClusterConfig struct {
	MinimumServingNodes    int     `json:"minimum_serving_nodes"`
	MinimumServingFraction float64 `json:"minimum_serving_fraction"`
}

// Update is a single change delivered by a store watch. Exists false means
// the key was removed; Entry is the zero value in that case.
type Update[T any] struct {
	Key    string
	Exists bool
	Entry  T
}

// Status is the outcome of a store write. A non-nil Err means the write did
// not happen; callers log and rely on the next state change to retry.
type Status struct {
	Err error
}

func (s Status) OK() bool { return s.Err == nil }

func StatusOK() Status { return Status{} }

func StatusError(err error) Status { return Status{Err: err} }
