package treedb

import (
	"sync"

	"github.com/langdead/certificate-transparency/internal/sth"
)

// MemDatabase is an in-process Database used by controller tests.
type MemDatabase struct {
	mu     sync.Mutex
	head   sth.SignedTreeHead
	hasOne bool
	err    error
}

func NewMemDatabase() *MemDatabase {
	return &MemDatabase{}
}

func (m *MemDatabase) LatestTreeHead() (sth.SignedTreeHead, LookupResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return sth.SignedTreeHead{}, LookupError
	}
	if !m.hasOne {
		return sth.SignedTreeHead{}, NotFound
	}
	return m.head, OK
}

func (m *MemDatabase) WriteTreeHead(head sth.SignedTreeHead) sth.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.head = head
	m.hasOne = true
	return sth.StatusOK()
}

// SetLookupError makes every LatestTreeHead call return LookupError while err
// is non-nil, for tests exercising the fatal "unexpected DB lookup failure"
// path.
func (m *MemDatabase) SetLookupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var _ Database = (*MemDatabase)(nil)
