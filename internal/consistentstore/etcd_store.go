package consistentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/langdead/certificate-transparency/internal/log_service"
	"github.com/langdead/certificate-transparency/internal/sth"
)

const dialTimeout = 5 * time.Second

// EtcdStore is a Store backed by etcd: node states live under a key prefix,
// cluster config and the serving STH are each a singleton key. All three are
// JSON-encoded; the controller itself never sees the encoding.
type EtcdStore struct {
	client *clientv3.Client
	ls     log_service.LogService

	wg sync.WaitGroup
}

func DialEtcdStore(endpoints []string, ls log_service.LogService) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli, ls: ls}, nil
}

// Close waits for all watch goroutines started via Watch* to return. Callers
// must have canceled every ctx passed to those calls first.
func (s *EtcdStore) Close() error {
	s.wg.Wait()
	return s.client.Close()
}

// Client exposes the underlying etcd client so that a master-election
// implementation can share the same connection instead of dialing its own.
func (s *EtcdStore) Client() *clientv3.Client {
	return s.client
}

func nodeIDFromKey(key []byte) string {
	return strings.TrimPrefix(string(key), nodeStatesKeyPrefix)
}

func (s *EtcdStore) WatchClusterNodeStates(ctx context.Context, callback func([]sth.Update[sth.ClusterNodeState])) error {
	resp, err := s.client.Get(ctx, nodeStatesKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	initial := make([]sth.Update[sth.ClusterNodeState], 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var state sth.ClusterNodeState
		if err := json.Unmarshal(kv.Value, &state); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable ClusterNodeState", Metadata: map[string]any{"key": string(kv.Key), "error": err.Error()}})
			continue
		}
		initial = append(initial, sth.Update[sth.ClusterNodeState]{Key: nodeIDFromKey(kv.Key), Exists: true, Entry: state})
	}
	if len(initial) > 0 {
		callback(initial)
	}

	startRev := resp.Header.Revision + 1
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		watchCh := s.client.Watch(ctx, nodeStatesKeyPrefix, clientv3.WithPrefix(), clientv3.WithRev(startRev))
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-watchCh:
				if !ok {
					return
				}
				if err := wresp.Err(); err != nil {
					s.ls.Error(log_service.LogEvent{Message: "ClusterNodeState watch failed", Metadata: map[string]any{"error": err.Error()}})
					return
				}
				batch := make([]sth.Update[sth.ClusterNodeState], 0, len(wresp.Events))
				for _, ev := range wresp.Events {
					id := nodeIDFromKey(ev.Kv.Key)
					if ev.Type == clientv3.EventTypeDelete {
						batch = append(batch, sth.Update[sth.ClusterNodeState]{Key: id, Exists: false})
						continue
					}
					var state sth.ClusterNodeState
					if err := json.Unmarshal(ev.Kv.Value, &state); err != nil {
						s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable ClusterNodeState", Metadata: map[string]any{"key": id, "error": err.Error()}})
						continue
					}
					batch = append(batch, sth.Update[sth.ClusterNodeState]{Key: id, Exists: true, Entry: state})
				}
				if len(batch) > 0 {
					callback(batch)
				}
			}
		}
	}()
	return nil
}

func (s *EtcdStore) WatchClusterConfig(ctx context.Context, callback func(sth.Update[sth.ClusterConfig])) error {
	resp, err := s.client.Get(ctx, clusterConfigKey)
	if err != nil {
		return err
	}
	if len(resp.Kvs) > 0 {
		var cfg sth.ClusterConfig
		if err := json.Unmarshal(resp.Kvs[0].Value, &cfg); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable ClusterConfig", Metadata: map[string]any{"error": err.Error()}})
		} else {
			callback(sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: true, Entry: cfg})
		}
	} else {
		callback(sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: false})
	}

	startRev := resp.Header.Revision + 1
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		watchCh := s.client.Watch(ctx, clusterConfigKey, clientv3.WithRev(startRev))
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-watchCh:
				if !ok {
					return
				}
				if err := wresp.Err(); err != nil {
					s.ls.Error(log_service.LogEvent{Message: "ClusterConfig watch failed", Metadata: map[string]any{"error": err.Error()}})
					return
				}
				for _, ev := range wresp.Events {
					if ev.Type == clientv3.EventTypeDelete {
						callback(sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: false})
						continue
					}
					var cfg sth.ClusterConfig
					if err := json.Unmarshal(ev.Kv.Value, &cfg); err != nil {
						s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable ClusterConfig", Metadata: map[string]any{"error": err.Error()}})
						continue
					}
					callback(sth.Update[sth.ClusterConfig]{Key: clusterConfigKey, Exists: true, Entry: cfg})
				}
			}
		}
	}()
	return nil
}

func (s *EtcdStore) WatchServingSTH(ctx context.Context, callback func(sth.Update[sth.SignedTreeHead])) error {
	resp, err := s.client.Get(ctx, servingSTHKey)
	if err != nil {
		return err
	}
	if len(resp.Kvs) > 0 {
		var head sth.SignedTreeHead
		if err := json.Unmarshal(resp.Kvs[0].Value, &head); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable serving STH", Metadata: map[string]any{"error": err.Error()}})
		} else {
			callback(sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: true, Entry: head})
		}
	} else {
		callback(sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: false})
	}

	startRev := resp.Header.Revision + 1
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		watchCh := s.client.Watch(ctx, servingSTHKey, clientv3.WithRev(startRev))
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-watchCh:
				if !ok {
					return
				}
				if err := wresp.Err(); err != nil {
					s.ls.Error(log_service.LogEvent{Message: "Serving STH watch failed", Metadata: map[string]any{"error": err.Error()}})
					return
				}
				for _, ev := range wresp.Events {
					if ev.Type == clientv3.EventTypeDelete {
						callback(sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: false})
						continue
					}
					var head sth.SignedTreeHead
					if err := json.Unmarshal(ev.Kv.Value, &head); err != nil {
						s.ls.Warn(log_service.LogEvent{Message: "Dropping unparseable serving STH", Metadata: map[string]any{"error": err.Error()}})
						continue
					}
					callback(sth.Update[sth.SignedTreeHead]{Key: servingSTHKey, Exists: true, Entry: head})
				}
			}
		}
	}()
	return nil
}

func (s *EtcdStore) SetClusterNodeState(nodeID string, state sth.ClusterNodeState) sth.Status {
	val, err := json.Marshal(state)
	if err != nil {
		return sth.StatusError(fmt.Errorf("marshal ClusterNodeState: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := s.client.Put(ctx, nodeStatesKeyPrefix+nodeID, string(val)); err != nil {
		return sth.StatusError(err)
	}
	return sth.StatusOK()
}

func (s *EtcdStore) SetServingSTH(head sth.SignedTreeHead) sth.Status {
	val, err := json.Marshal(head)
	if err != nil {
		return sth.StatusError(fmt.Errorf("marshal SignedTreeHead: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := s.client.Put(ctx, servingSTHKey, string(val)); err != nil {
		return sth.StatusError(err)
	}
	return sth.StatusOK()
}

var _ Store = (*EtcdStore)(nil)
