package treedb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/langdead/certificate-transparency/internal/sth"
)

// DiskDatabase stores a single STH record per node under dataDir, following
// the same local-disk, mutex-guarded pattern used by log_service's
// LocalDiscLogService: one file per node identity, replaced atomically on
// write (write to a temp file, then rename) rather than appended to.
type DiskDatabase struct {
	mu   sync.Mutex
	path string
}

func NewDiskDatabase(dataDir, nodeID string) (*DiskDatabase, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &DiskDatabase{path: filepath.Join(dataDir, fmt.Sprintf("%s.sth.json", nodeID))}, nil
}

func (d *DiskDatabase) LatestTreeHead() (sth.SignedTreeHead, LookupResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sth.SignedTreeHead{}, NotFound
		}
		return sth.SignedTreeHead{}, LookupError
	}

	var head sth.SignedTreeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return sth.SignedTreeHead{}, LookupError
	}
	return head, OK
}

func (d *DiskDatabase) WriteTreeHead(head sth.SignedTreeHead) sth.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.Marshal(head)
	if err != nil {
		return sth.StatusError(fmt.Errorf("marshal SignedTreeHead: %w", err))
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return sth.StatusError(err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return sth.StatusError(err)
	}
	return sth.StatusOK()
}

var _ Database = (*DiskDatabase)(nil)
