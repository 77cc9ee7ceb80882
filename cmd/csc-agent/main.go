// Command csc-agent runs the cluster state controller for one log node: it
// dials the consistent store and master-election backends, opens the local
// tree database, and wires them into a clusterstate.Controller until the
// process receives a termination signal.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/langdead/certificate-transparency/internal/clusterstate"
	"github.com/langdead/certificate-transparency/internal/consistentstore"
	"github.com/langdead/certificate-transparency/internal/election"
	"github.com/langdead/certificate-transparency/internal/log_service"
	"github.com/langdead/certificate-transparency/internal/sth"
	"github.com/langdead/certificate-transparency/internal/treedb"
)

// bootstrapConfig is the optional YAML file loaded via -config: an initial
// quorum policy and extra etcd endpoints. The quorum policy is only applied
// when running against the in-memory store; with etcd, the cluster config
// comes from the store alone.
type bootstrapConfig struct {
	MinimumServingNodes    int      `yaml:"minimum_serving_nodes"`
	MinimumServingFraction float64  `yaml:"minimum_serving_fraction"`
	EtcdEndpoints          []string `yaml:"etcd_endpoints"`
}

func loadBootstrapConfig(path string) (*bootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg bootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

func main() {
	var (
		nodeID        = flag.String("node-id", "", "node identity; generated if empty")
		listenHost    = flag.String("listen-host", "", "hostname this node advertises to peers")
		listenPort    = flag.Int("listen-port", 0, "port this node advertises to peers")
		etcdEndpoints = flag.String("etcd-endpoints", "", "comma-separated etcd endpoints; standalone in-memory store if neither this nor -config names any")
		dataDir       = flag.String("data-dir", "./data", "directory for the local tree database and logs")
		configPath    = flag.String("config", "", "optional YAML file with the initial quorum policy")
	)
	flag.Parse()

	if *nodeID == "" {
		*nodeID = uuid.NewString()
	}

	logger := log_service.NewLocalDiscLogService(*dataDir, *nodeID)

	var bootCfg *bootstrapConfig
	if *configPath != "" {
		cfg, err := loadBootstrapConfig(*configPath)
		if err != nil {
			log.Fatalf("csc-agent: %v", err)
		}
		bootCfg = cfg
	}

	endpoints := splitNonEmpty(*etcdEndpoints)
	if bootCfg != nil {
		endpoints = append(endpoints, bootCfg.EtcdEndpoints...)
	}

	var (
		store    consistentstore.Store
		elect    election.Election
		closeAll = func() {}
	)

	if len(endpoints) == 0 {
		logger.Warn(log_service.LogEvent{
			NodeID:  *nodeID,
			Message: "no etcd endpoints configured; running against an in-memory store",
		})
		store = consistentstore.NewMemStore()
		elect = election.NewFakeElection()
	} else {
		etcdStore, err := consistentstore.DialEtcdStore(endpoints, logger)
		if err != nil {
			log.Fatalf("csc-agent: dialing etcd: %v", err)
		}
		etcdElection := election.NewEtcdElection(etcdStore.Client(), *nodeID, logger)
		store = etcdStore
		elect = etcdElection
		closeAll = func() {
			elect.StopElection()
			if err := etcdStore.Close(); err != nil {
				logger.Warn(log_service.LogEvent{NodeID: *nodeID, Message: "error closing etcd store", Metadata: map[string]any{"error": err.Error()}})
			}
		}
	}
	defer closeAll()

	db, err := treedb.NewDiskDatabase(*dataDir, *nodeID)
	if err != nil {
		log.Fatalf("csc-agent: opening local database: %v", err)
	}

	controller, err := clusterstate.NewController(*nodeID, store, elect, db, logger)
	if err != nil {
		log.Fatalf("csc-agent: starting controller: %v", err)
	}
	defer controller.Close()

	if bootCfg != nil && len(endpoints) == 0 {
		// No etcd endpoints means the in-memory store won't have a config
		// published by anyone else; seed it directly so a standalone run
		// still exercises the quorum policy from the bootstrap file.
		if ms, ok := store.(*consistentstore.MemStore); ok {
			ms.PushConfig(&sth.ClusterConfig{
				MinimumServingNodes:    bootCfg.MinimumServingNodes,
				MinimumServingFraction: bootCfg.MinimumServingFraction,
			})
		}
	}

	if *listenHost != "" && *listenPort != 0 {
		controller.SetNodeHostPort(*listenHost, *listenPort)
	}

	logger.Info(log_service.LogEvent{
		NodeID:  *nodeID,
		Message: "cluster state controller started",
		Metadata: map[string]any{
			"listen_host": *listenHost,
			"listen_port": *listenPort,
			"data_dir":    *dataDir,
		},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(log_service.LogEvent{NodeID: *nodeID, Message: "shutting down"})
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
