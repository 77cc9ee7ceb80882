// Package consistentstore defines the external coordination service the
// cluster state controller watches and writes to, and ships two concrete
// implementations of it: an etcd-backed one for production, and an
// in-memory one for controller tests and standalone operation.
//
// Grounded on internal/cluster_service/etcd's watch-callback/cache design
// from the reference stack, generalized from a single untyped Watch
// callback into the typed, batched Update model the controller needs.
package consistentstore

import (
	"context"

	"github.com/langdead/certificate-transparency/internal/sth"
)

// Store is the consistent store consumed by the cluster state controller.
// Watch methods start a long-lived subscription and return once the initial
// snapshot has been delivered to callback; further deliveries follow until
// ctx is canceled (EtcdStore makes them from a background goroutine per
// watch, MemStore synchronously on the goroutine that makes the change).
// Updates from different Watch methods are not mutually ordered.
type Store interface {
	WatchClusterNodeStates(ctx context.Context, callback func([]sth.Update[sth.ClusterNodeState])) error
	WatchClusterConfig(ctx context.Context, callback func(sth.Update[sth.ClusterConfig])) error
	WatchServingSTH(ctx context.Context, callback func(sth.Update[sth.SignedTreeHead])) error

	SetClusterNodeState(nodeID string, state sth.ClusterNodeState) sth.Status
	SetServingSTH(head sth.SignedTreeHead) sth.Status
}

const (
	nodeStatesKeyPrefix = "/ct/cluster/nodes/"
	clusterConfigKey    = "/ct/cluster/config"
	servingSTHKey       = "/ct/cluster/serving-sth"
)
