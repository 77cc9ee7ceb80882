package consistentstore

import (
	"context"
	"sync"

	"github.com/langdead/certificate-transparency/internal/sth"
)

// MemStore is an in-process Store with no network dependency, used by
// controller tests and by the agent binary's standalone mode when no etcd
// endpoints are configured. Writes made through SetClusterNodeState and
// SetServingSTH are delivered to watchers exactly like etcd would deliver
// them; PushNodeState, PushConfig, and PushServingSTH additionally let a
// test simulate another peer publishing directly, without going through a
// local Set call.
type MemStore struct {
	mu sync.Mutex

	nodeStates map[string]sth.ClusterNodeState
	config     *sth.ClusterConfig
	servingSTH *sth.SignedTreeHead

	nextWatcherID  int
	nodeWatchers   map[int]func([]sth.Update[sth.ClusterNodeState])
	configWatchers map[int]func(sth.Update[sth.ClusterConfig])
	sthWatchers    map[int]func(sth.Update[sth.SignedTreeHead])
}

func NewMemStore() *MemStore {
	return &MemStore{
		nodeStates:     make(map[string]sth.ClusterNodeState),
		nodeWatchers:   make(map[int]func([]sth.Update[sth.ClusterNodeState])),
		configWatchers: make(map[int]func(sth.Update[sth.ClusterConfig])),
		sthWatchers:    make(map[int]func(sth.Update[sth.SignedTreeHead])),
	}
}

func (m *MemStore) WatchClusterNodeStates(ctx context.Context, callback func([]sth.Update[sth.ClusterNodeState])) error {
	m.mu.Lock()
	initial := make([]sth.Update[sth.ClusterNodeState], 0, len(m.nodeStates))
	for id, state := range m.nodeStates {
		initial = append(initial, sth.Update[sth.ClusterNodeState]{Key: id, Exists: true, Entry: state})
	}
	m.nextWatcherID++
	id := m.nextWatcherID
	m.nodeWatchers[id] = callback
	m.mu.Unlock()

	if len(initial) > 0 {
		callback(initial)
	}
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.nodeWatchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *MemStore) WatchClusterConfig(ctx context.Context, callback func(sth.Update[sth.ClusterConfig])) error {
	m.mu.Lock()
	var initial sth.Update[sth.ClusterConfig]
	if m.config != nil {
		initial = sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: true, Entry: *m.config}
	} else {
		initial = sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: false}
	}
	m.nextWatcherID++
	id := m.nextWatcherID
	m.configWatchers[id] = callback
	m.mu.Unlock()

	callback(initial)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.configWatchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *MemStore) WatchServingSTH(ctx context.Context, callback func(sth.Update[sth.SignedTreeHead])) error {
	m.mu.Lock()
	var initial sth.Update[sth.SignedTreeHead]
	if m.servingSTH != nil {
		initial = sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: true, Entry: *m.servingSTH}
	} else {
		initial = sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: false}
	}
	m.nextWatcherID++
	id := m.nextWatcherID
	m.sthWatchers[id] = callback
	m.mu.Unlock()

	callback(initial)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.sthWatchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *MemStore) SetClusterNodeState(nodeID string, state sth.ClusterNodeState) sth.Status {
	m.PushNodeState(nodeID, &state)
	return sth.StatusOK()
}

func (m *MemStore) SetServingSTH(head sth.SignedTreeHead) sth.Status {
	m.PushServingSTH(&head)
	return sth.StatusOK()
}

// PushNodeState simulates a peer (or this node) publishing a new state, or,
// when state is nil, leaving the cluster. It notifies every registered
// ClusterNodeState watcher synchronously.
func (m *MemStore) PushNodeState(nodeID string, state *sth.ClusterNodeState) {
	m.mu.Lock()
	var update sth.Update[sth.ClusterNodeState]
	if state == nil {
		delete(m.nodeStates, nodeID)
		update = sth.Update[sth.ClusterNodeState]{Key: nodeID, Exists: false}
	} else {
		m.nodeStates[nodeID] = *state
		update = sth.Update[sth.ClusterNodeState]{Key: nodeID, Exists: true, Entry: *state}
	}
	watchers := make([]func([]sth.Update[sth.ClusterNodeState]), 0, len(m.nodeWatchers))
	for _, w := range m.nodeWatchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		w([]sth.Update[sth.ClusterNodeState]{update})
	}
}

// PushConfig simulates a ClusterConfig update becoming visible in the store.
func (m *MemStore) PushConfig(cfg *sth.ClusterConfig) {
	m.mu.Lock()
	m.config = cfg
	var update sth.Update[sth.ClusterConfig]
	if cfg == nil {
		update = sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: false}
	} else {
		update = sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: true, Entry: *cfg}
	}
	watchers := make([]func(sth.Update[sth.ClusterConfig]), 0, len(m.configWatchers))
	for _, w := range m.configWatchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		w(update)
	}
}

// PushServingSTH simulates the serving STH changing in the store, whether
// written by this node's own Publisher or observed from another master.
func (m *MemStore) PushServingSTH(head *sth.SignedTreeHead) {
	m.mu.Lock()
	m.servingSTH = head
	var update sth.Update[sth.SignedTreeHead]
	if head == nil {
		update = sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: false}
	} else {
		update = sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: true, Entry: *head}
	}
	watchers := make([]func(sth.Update[sth.SignedTreeHead]), 0, len(m.sthWatchers))
	for _, w := range m.sthWatchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		w(update)
	}
}

var _ Store = (*MemStore)(nil)
