package election

import "sync"

// FakeElection is a controllable Election used by clusterstate's tests. A
// test drives master status directly with SetMaster; StartElection and
// StopElection just record call counts the test can assert on, mirroring
// the way the reference stack's tests drove InMemoryNodeRegistry directly
// rather than through a real cluster service.
type FakeElection struct {
	mu sync.Mutex

	started int
	stopped int
	master  bool
	calls   []string
}

func NewFakeElection() *FakeElection {
	return &FakeElection{}
}

func (f *FakeElection) StartElection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.calls = append(f.calls, "start")
}

func (f *FakeElection) StopElection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.calls = append(f.calls, "stop")
}

func (f *FakeElection) IsMaster() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.master
}

func (f *FakeElection) SetMaster(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.master = v
}

// StartCount and StopCount report how many times StartElection/StopElection
// were called, for tests asserting idempotent gating behavior (P4).
func (f *FakeElection) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeElection) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// CallLog returns the sequence of "start"/"stop" calls observed so far, for
// tests asserting that a StopElection was not followed by a stray
// StartElection while replication was still lagging (P4).
func (f *FakeElection) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ Election = (*FakeElection)(nil)
