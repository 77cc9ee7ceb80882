package log_service

import "sync"

// MemLogService records events in memory instead of writing them anywhere,
// for use by tests that construct a controller and its collaborators
// without touching disk.
type MemLogService struct {
	mu     sync.Mutex
	events map[string][]LogEvent
}

func NewMemLogService() *MemLogService {
	return &MemLogService{events: make(map[string][]LogEvent)}
}

func (m *MemLogService) Debug(event LogEvent) { m.record(DebugLevel, event) }
func (m *MemLogService) Info(event LogEvent)  { m.record(InfoLevel, event) }
func (m *MemLogService) Warn(event LogEvent)  { m.record(WarnLevel, event) }
func (m *MemLogService) Error(event LogEvent) { m.record(ErrorLevel, event) }

func (m *MemLogService) record(level string, event LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[level] = append(m.events[level], event)
}

// Events returns every recorded event at the given level, for tests
// asserting that a particular warning or error was (or was not) logged.
func (m *MemLogService) Events(level string) []LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEvent, len(m.events[level]))
	copy(out, m.events[level])
	return out
}

var _ LogService = (*MemLogService)(nil)
