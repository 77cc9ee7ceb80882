// Package clusterstate implements the cluster state controller: the
// coordination core that tracks every log node's published state, derives
// the serving STH a quorum of nodes can sign for, and gates this node's
// participation in master election on whether its own replication has
// caught up with that serving STH.
//
// Grounded throughout on ClusterStateController from the reference
// implementation, rebuilt on goroutines, a mutex, and a condition
// variable in place of the original's thread/mutex/condition_variable_any.
package clusterstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/langdead/certificate-transparency/internal/consistentstore"
	"github.com/langdead/certificate-transparency/internal/election"
	"github.com/langdead/certificate-transparency/internal/log_service"
	"github.com/langdead/certificate-transparency/internal/sth"
	"github.com/langdead/certificate-transparency/internal/treedb"
)

// Controller is the process-wide singleton that owns local_node_state,
// all_peers, cluster_config, actual_serving_sth, and calculated_serving_sth,
// and drives the Publisher worker that propagates a newly calculated
// serving STH into the store while this node is master.
type Controller struct {
	nodeID string
	store  consistentstore.Store
	elect  election.Election
	db     treedb.Database
	logger log_service.LogService

	mu   sync.Mutex
	cond *sync.Cond

	localState sth.ClusterNodeState
	peers      *PeerRegistry
	config     *sth.ClusterConfig

	actualServingSTH     *sth.SignedTreeHead
	calculatedServingSTH *sth.SignedTreeHead

	updateRequired bool
	exiting        bool

	watchCancel context.CancelFunc
	pubDone     chan struct{}
}

// NewController constructs a Controller, registers its three store
// watchers, and starts the Publisher worker. The returned Controller owns
// the watches and the worker until Close is called.
func NewController(nodeID string, store consistentstore.Store, elect election.Election, db treedb.Database, logger log_service.LogService) (*Controller, error) {
	if nodeID == "" {
		panic("clusterstate: NewController called with an empty node id")
	}

	c := &Controller{
		nodeID:  nodeID,
		store:   store,
		elect:   elect,
		db:      db,
		logger:  logger,
		peers:   NewPeerRegistry(),
		pubDone: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	ctx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel

	if err := store.WatchClusterNodeStates(ctx, c.onClusterStateUpdated); err != nil {
		cancel()
		return nil, fmt.Errorf("clusterstate: watching cluster node states: %w", err)
	}
	if err := store.WatchClusterConfig(ctx, c.onClusterConfigUpdated); err != nil {
		cancel()
		return nil, fmt.Errorf("clusterstate: watching cluster config: %w", err)
	}
	if err := store.WatchServingSTH(ctx, c.onServingSTHUpdated); err != nil {
		cancel()
		return nil, fmt.Errorf("clusterstate: watching serving sth: %w", err)
	}

	go c.runPublisher()

	return c, nil
}

// NewTreeHead records a newly produced local STH. timestamp must be
// >= any prior local STH's timestamp, else this is a precondition
// violation and fatal.
func (c *Controller) NewTreeHead(head sth.SignedTreeHead) {
	c.mu.Lock()
	if c.localState.NewestSTH != nil && head.Timestamp < c.localState.NewestSTH.Timestamp {
		c.mu.Unlock()
		panic(fmt.Sprintf("clusterstate: local STH timestamp moved backwards: %d < %d", head.Timestamp, c.localState.NewestSTH.Timestamp))
	}
	c.localState.NewestSTH = &head
	c.recomputeServingSTHLocked()
	c.runElectionGateLocked()
	snapshot := c.localState
	c.mu.Unlock()

	c.pushLocalNodeState(snapshot)
}

// SetNodeHostPort sets the transport address this node advertises.
func (c *Controller) SetNodeHostPort(host string, port int) {
	if host == "" || port < 1 || port > 65535 {
		panic(fmt.Sprintf("clusterstate: invalid (host, port): (%q, %d)", host, port))
	}

	c.mu.Lock()
	c.localState.Hostname = host
	c.localState.LogPort = port
	snapshot := c.localState
	c.mu.Unlock()

	c.pushLocalNodeState(snapshot)
}

// GetLocalNodeState returns a snapshot copy of this node's published state.
func (c *Controller) GetLocalNodeState() sth.ClusterNodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localState
}

// GetCalculatedServingSTH returns the serving STH this node last
// calculated, if any.
func (c *Controller) GetCalculatedServingSTH() (sth.SignedTreeHead, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calculatedServingSTH == nil {
		return sth.SignedTreeHead{}, false
	}
	return *c.calculatedServingSTH, true
}

// pushLocalNodeState publishes state to the store outside the controller
// lock: the write itself never happens while the lock is held. Failure is
// logged and swallowed; the next local state change retries implicitly.
func (c *Controller) pushLocalNodeState(state sth.ClusterNodeState) {
	status := c.store.SetClusterNodeState(c.nodeID, state)
	if !status.OK() {
		c.logger.Warn(log_service.LogEvent{
			NodeID:   c.nodeID,
			Message:  "failed to publish local node state",
			Metadata: map[string]any{"error": status.Err.Error()},
		})
	}
}

// onClusterStateUpdated is the node-state watcher callback.
func (c *Controller) onClusterStateUpdated(updates []sth.Update[sth.ClusterNodeState]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exiting {
		return
	}

	c.peers.ApplyUpdates(updates)
	c.recomputeServingSTHLocked()
}

// onClusterConfigUpdated is the cluster-config watcher callback.
func (c *Controller) onClusterConfigUpdated(update sth.Update[sth.ClusterConfig]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exiting {
		return
	}

	if !update.Exists {
		c.config = nil
		return
	}
	cfg := update.Entry
	c.config = &cfg
	c.recomputeServingSTHLocked()
}

// onServingSTHUpdated is the serving-STH watcher callback.
func (c *Controller) onServingSTHUpdated(update sth.Update[sth.SignedTreeHead]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exiting {
		return
	}

	if !update.Exists {
		c.actualServingSTH = nil
		c.runElectionGateLocked()
		return
	}

	incoming := update.Entry
	if incoming.Timestamp == 0 {
		c.logger.Warn(log_service.LogEvent{
			NodeID:  c.nodeID,
			Message: "rejecting serving STH update with zero timestamp",
		})
		return
	}

	c.actualServingSTH = &incoming
	c.reconcileWithDatabase(incoming)
	c.runElectionGateLocked()
}

// reconcileWithDatabase reconciles an incoming serving STH against the
// local database. Called with c.mu held.
func (c *Controller) reconcileWithDatabase(incoming sth.SignedTreeHead) {
	dbHead, result := c.db.LatestTreeHead()

	switch result {
	case treedb.NotFound:
		c.logger.Info(log_service.LogEvent{
			NodeID:  c.nodeID,
			Message: "first serving STH seen for this node's local database",
		})
		if status := c.db.WriteTreeHead(incoming); !status.OK() {
			c.logger.Warn(log_service.LogEvent{
				NodeID:   c.nodeID,
				Message:  "failed to persist serving STH",
				Metadata: map[string]any{"error": status.Err.Error()},
			})
		}
		return
	case treedb.OK:
		if incoming.KeyID != dbHead.KeyID || incoming.Version != dbHead.Version {
			panic(fmt.Sprintf("clusterstate: serving STH key_id/version mismatch with local database: (%q, %d) != (%q, %d)",
				incoming.KeyID, incoming.Version, dbHead.KeyID, dbHead.Version))
		}
		if incoming.Timestamp == dbHead.Timestamp {
			if !incoming.Equal(dbHead) {
				panic("clusterstate: serving STH shares a timestamp with the local database's record but disagrees on tree_size or root hash")
			}
			return
		}
		if incoming.Timestamp <= dbHead.Timestamp || incoming.TreeSize < dbHead.TreeSize {
			panic(fmt.Sprintf("clusterstate: serving STH is not a forward advance over the local database: incoming=%+v db=%+v", incoming, dbHead))
		}
		if status := c.db.WriteTreeHead(incoming); !status.OK() {
			c.logger.Warn(log_service.LogEvent{
				NodeID:   c.nodeID,
				Message:  "failed to persist serving STH",
				Metadata: map[string]any{"error": status.Err.Error()},
			})
		}
	default:
		panic(fmt.Sprintf("clusterstate: unexpected local database lookup failure: %v", result))
	}
}

// recomputeServingSTHLocked runs the calculator over the current snapshot
// and, on acceptance, signals the Publisher iff this node is master.
// Called with c.mu held.
func (c *Controller) recomputeServingSTHLocked() {
	candidate, ok := calculateServingSTH(c.peers.Snapshot(), c.config, c.actualServingSTH, c.calculatedServingSTH)
	if !ok {
		c.logger.Warn(log_service.LogEvent{
			NodeID:  c.nodeID,
			Message: "no serving STH candidate satisfies the current quorum policy",
		})
		return
	}

	c.calculatedServingSTH = candidate
	if c.elect.IsMaster() {
		c.updateRequired = true
		c.cond.Broadcast()
	}
}

// runElectionGateLocked re-evaluates master-election participation.
// Called with c.mu held.
func (c *Controller) runElectionGateLocked() {
	runElectionGate(c.elect, c.logger, c.nodeID, c.actualServingSTH, c.localState)
}

// runPublisher is the Publisher worker loop.
func (c *Controller) runPublisher() {
	defer close(c.pubDone)

	for {
		c.mu.Lock()
		for !c.updateRequired && !c.exiting {
			c.cond.Wait()
		}
		if c.exiting {
			c.mu.Unlock()
			return
		}

		localCopy := *c.calculatedServingSTH
		c.updateRequired = false
		c.mu.Unlock()

		if c.elect.IsMaster() {
			if status := c.store.SetServingSTH(localCopy); !status.OK() {
				c.logger.Warn(log_service.LogEvent{
					NodeID:   c.nodeID,
					Message:  "failed to publish serving STH",
					Metadata: map[string]any{"error": status.Err.Error()},
				})
			}
		}
	}
}

// Close cancels the three watches, stops the Publisher, and releases every
// peer's client handle. Watcher callbacks that run once Close has begun
// return without touching controller state; NewTreeHead and
// SetNodeHostPort do not check for it.
func (c *Controller) Close() {
	c.watchCancel()

	c.mu.Lock()
	c.exiting = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.pubDone

	c.mu.Lock()
	c.peers.Close()
	c.mu.Unlock()
}
