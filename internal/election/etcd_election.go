package election

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"golang.org/x/exp/rand"

	"github.com/langdead/certificate-transparency/internal/log_service"
)

const (
	electionKeyPrefix   = "/ct/cluster/master"
	sessionTTLSeconds   = 10
	campaignRetryMinMs  = 150
	campaignRetryJitter = 150
)

// EtcdElection wraps go.etcd.io/etcd/client/v3/concurrency's Session and
// Election behind the controller-facing Start/Stop/IsMaster contract. A
// background goroutine holds the campaign loop; StartElection/StopElection
// only toggle whether that loop is running.
type EtcdElection struct {
	client *clientv3.Client
	nodeID string
	ls     log_service.LogService

	mu          sync.Mutex
	campaigning bool
	isMaster    bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewEtcdElection(client *clientv3.Client, nodeID string, ls log_service.LogService) *EtcdElection {
	return &EtcdElection{client: client, nodeID: nodeID, ls: ls}
}

func (e *EtcdElection) StartElection() {
	e.mu.Lock()
	if e.campaigning {
		e.mu.Unlock()
		return
	}
	e.campaigning = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.campaignLoop(ctx)
}

func (e *EtcdElection) StopElection() {
	e.mu.Lock()
	if !e.campaigning {
		e.mu.Unlock()
		return
	}
	e.campaigning = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *EtcdElection) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isMaster
}

func (e *EtcdElection) setMaster(v bool) {
	e.mu.Lock()
	e.isMaster = v
	e.mu.Unlock()
}

// campaignLoop repeatedly opens a session, campaigns for leadership, and
// holds it until the context is canceled (StopElection) or the session
// expires (e.g. this node stalled and its lease lapsed), in which case it
// resigns implicitly and tries again.
func (e *EtcdElection) campaignLoop(ctx context.Context) {
	defer e.wg.Done()
	defer e.setMaster(false)

	for {
		if ctx.Err() != nil {
			return
		}

		session, err := concurrency.NewSession(e.client, concurrency.WithTTL(sessionTTLSeconds), concurrency.WithContext(ctx))
		if err != nil {
			e.ls.Warn(log_service.LogEvent{Message: "Failed to open election session", Metadata: map[string]any{"error": err.Error()}})
			if !e.backoff(ctx) {
				return
			}
			continue
		}

		elec := concurrency.NewElection(session, electionKeyPrefix)
		if err := elec.Campaign(ctx, e.nodeID); err != nil {
			session.Close()
			e.ls.Warn(log_service.LogEvent{Message: "Campaign attempt failed", Metadata: map[string]any{"nodeID": e.nodeID, "error": err.Error()}})
			if !e.backoff(ctx) {
				return
			}
			continue
		}

		e.ls.Info(log_service.LogEvent{Message: "Elected master", Metadata: map[string]any{"nodeID": e.nodeID}})
		e.setMaster(true)

		select {
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := elec.Resign(resignCtx); err != nil {
				e.ls.Warn(log_service.LogEvent{Message: "Failed to resign election", Metadata: map[string]any{"error": err.Error()}})
			}
			cancel()
			session.Close()
			return
		case <-session.Done():
			e.ls.Warn(log_service.LogEvent{Message: "Election session expired, rejoining", Metadata: map[string]any{"nodeID": e.nodeID}})
			e.setMaster(false)
		}
	}
}

// backoff sleeps a jittered interval before the next campaign attempt,
// returning false if ctx was canceled first.
func (e *EtcdElection) backoff(ctx context.Context) bool {
	d := time.Duration(rand.Intn(campaignRetryJitter)+campaignRetryMinMs) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Election = (*EtcdElection)(nil)
