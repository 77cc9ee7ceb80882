// Package treedb is the narrow local database contract the cluster state
// controller reconciles an incoming serving STH against: it only needs
// the latest STH, not the tree itself.
package treedb

import "github.com/langdead/certificate-transparency/internal/sth"

// LookupResult mirrors the three outcomes LatestTreeHead can have; any value
// other than OK or NotFound is a fatal condition for the caller.
type LookupResult int

const (
	OK LookupResult = iota
	NotFound
	LookupError
)

// Database is the local database collaborator consumed by the controller.
type Database interface {
	LatestTreeHead() (sth.SignedTreeHead, LookupResult)
	WriteTreeHead(head sth.SignedTreeHead) sth.Status
}
