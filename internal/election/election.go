// Package election defines the master-election collaborator consumed by the
// cluster state controller (Join/Leave only — the controller never
// implements the election algorithm itself) and ships an etcd-backed
// implementation plus an in-memory fake for tests.
//
// Grounded on internal/cluster_service/raft_cluster_service.go's state
// machine shape (id, current state, jittered timer) from the reference
// stack, rebuilt on top of etcd's concurrency primitives instead of a
// hand-rolled Raft, since the controller only needs Start/Stop/IsMaster.
package election

// Election is the master-election handle the controller calls Join/Leave
// on. StartElection and StopElection are idempotent; IsMaster may be stale
// by up to the election session's lease TTL.
type Election interface {
	StartElection()
	StopElection()
	IsMaster() bool
}
