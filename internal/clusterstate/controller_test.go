package clusterstate

import (
	"context"
	"testing"
	"time"

	"github.com/langdead/certificate-transparency/internal/consistentstore"
	"github.com/langdead/certificate-transparency/internal/election"
	"github.com/langdead/certificate-transparency/internal/log_service"
	"github.com/langdead/certificate-transparency/internal/sth"
	"github.com/langdead/certificate-transparency/internal/treedb"
)

func newTestController(t *testing.T) (*Controller, *consistentstore.MemStore, *election.FakeElection, *treedb.MemDatabase) {
	t.Helper()
	store := consistentstore.NewMemStore()
	fe := election.NewFakeElection()
	db := treedb.NewMemDatabase()
	logger := log_service.NewMemLogService()

	c, err := NewController("node-a", store, fe, db, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(c.Close)
	return c, store, fe, db
}

func TestControllerPublishesLocalStateAndAppearsAsPeer(t *testing.T) {
	c, _, _, _ := newTestController(t)

	c.SetNodeHostPort("host-a", 8080)

	entry, ok := c.peers.Get("node-a")
	if !ok {
		t.Fatal("expected the local node to appear in the peer registry once published")
	}
	host, port := entry.HostPort()
	if host != "host-a" || port != 8080 {
		t.Fatalf("HostPort() = (%q, %d), want (%q, %d)", host, port, "host-a", 8080)
	}
}

func TestControllerCalculatesServingSTHOnceQuorumConfigArrives(t *testing.T) {
	c, store, _, _ := newTestController(t)

	head := sth.SignedTreeHead{TreeSize: 10, Timestamp: 100}
	store.PushNodeState("peer-b", &sth.ClusterNodeState{Hostname: "host-b", LogPort: 9090, NewestSTH: &head})

	if _, ok := c.GetCalculatedServingSTH(); ok {
		t.Fatal("expected no calculated serving STH before a config arrives")
	}

	store.PushConfig(&sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0})

	got, ok := c.GetCalculatedServingSTH()
	if !ok {
		t.Fatal("expected a calculated serving STH once quorum config arrives")
	}
	if got.TreeSize != 10 || got.Timestamp != 100 {
		t.Fatalf("got %+v, want tree_size=10 timestamp=100", got)
	}
}

func TestControllerPublishesServingSTHWhenMaster(t *testing.T) {
	c, store, fe, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	updates := make(chan sth.Update[sth.SignedTreeHead], 8)
	store.WatchServingSTH(ctx, func(u sth.Update[sth.SignedTreeHead]) { updates <- u })
	<-updates // drain the initial "not exists" delivery

	store.PushConfig(&sth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0})
	fe.SetMaster(true)

	c.SetNodeHostPort("host-a", 8080)
	c.NewTreeHead(sth.SignedTreeHead{TreeSize: 10, Timestamp: 100})

	select {
	case u := <-updates:
		if !u.Exists || u.Entry.TreeSize != 10 || u.Entry.Timestamp != 100 {
			t.Fatalf("got %+v, want an existing STH with tree_size=10 timestamp=100", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the Publisher to write the serving STH")
	}
}

func TestControllerElectionGateFollowsReplicationCatchUp(t *testing.T) {
	c, store, fe, _ := newTestController(t)

	store.PushServingSTH(&sth.SignedTreeHead{TreeSize: 10, Timestamp: 100})
	c.SetNodeHostPort("host-a", 8080)

	if fe.StopCount() == 0 {
		t.Fatal("expected StopElection while the local node has not published an STH")
	}

	stopsBeforeBehind := fe.StopCount()
	c.NewTreeHead(sth.SignedTreeHead{TreeSize: 5, Timestamp: 50})
	stopsAfterBehind := fe.StopCount()
	if stopsAfterBehind <= stopsBeforeBehind {
		t.Fatal("expected StopElection while the local node is behind the actual serving STH")
	}

	c.NewTreeHead(sth.SignedTreeHead{TreeSize: 10, Timestamp: 150})
	if fe.StartCount() == 0 {
		t.Fatal("expected StartElection once the local node catches up")
	}
}

func TestControllerReconcilesServingSTHIntoLocalDatabase(t *testing.T) {
	_, store, _, db := newTestController(t)

	head := sth.SignedTreeHead{TreeSize: 10, Timestamp: 100, KeyID: "k1", Version: 1}
	store.PushServingSTH(&head)

	dbHead, result := db.LatestTreeHead()
	if result != treedb.OK {
		t.Fatalf("LatestTreeHead result = %v, want OK", result)
	}
	if dbHead.TreeSize != 10 || dbHead.Timestamp != 100 {
		t.Fatalf("got %+v, want the pushed STH persisted", dbHead)
	}

	advance := sth.SignedTreeHead{TreeSize: 20, Timestamp: 200, KeyID: "k1", Version: 1}
	store.PushServingSTH(&advance)

	dbHead, result = db.LatestTreeHead()
	if result != treedb.OK || dbHead.TreeSize != 20 || dbHead.Timestamp != 200 {
		t.Fatalf("got (%+v, %v), want the advanced STH persisted", dbHead, result)
	}
}

func TestControllerRejectsBackwardsServingSTHReconciliation(t *testing.T) {
	store := consistentstore.NewMemStore()
	fe := election.NewFakeElection()
	db := treedb.NewMemDatabase()
	logger := log_service.NewMemLogService()

	db.WriteTreeHead(sth.SignedTreeHead{TreeSize: 20, Timestamp: 200, KeyID: "k1", Version: 1})

	c, err := NewController("node-a", store, fe, db, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on a backwards serving STH")
		}
	}()

	store.PushServingSTH(&sth.SignedTreeHead{TreeSize: 10, Timestamp: 100, KeyID: "k1", Version: 1})
	_ = c
}
