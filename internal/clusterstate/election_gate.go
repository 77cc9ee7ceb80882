package clusterstate

import (
	"github.com/langdead/certificate-transparency/internal/election"
	"github.com/langdead/certificate-transparency/internal/log_service"
	"github.com/langdead/certificate-transparency/internal/sth"
)

// runElectionGate re-evaluates this node's master-election participation
// after a change to either the actual serving STH or the local node's
// newest STH. The rules are evaluated in order and the first match wins;
// it never calls StartElection while this node's replication lags the
// cluster, matching property P4.
//
// Grounded on ClusterStateController::DetermineElectionParticipation from
// the reference implementation.
func runElectionGate(elect election.Election, logger log_service.LogService, nodeID string, actual *sth.SignedTreeHead, local sth.ClusterNodeState) {
	if actual == nil {
		logger.Warn(log_service.LogEvent{
			NodeID:  nodeID,
			Message: "no actual serving STH yet; cluster not bootstrapped, leaving election state untouched",
		})
		return
	}

	if local.NewestSTH == nil {
		elect.StopElection()
		return
	}

	if local.NewestSTH.TreeSize < actual.TreeSize {
		elect.StopElection()
		return
	}

	elect.StartElection()
}
