package dispatch

import (
	"sync"
	"sync/atomic"
)

// Level is a notice severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-facing message.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier is the single channel failures are reported through.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Collector keeps notices in memory, for request-scoped reporting.
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *Collector) Notify(n Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()
}

// Notices returns a copy of what was collected.
func (c *Collector) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Always answers every question with the same value.
type Always bool

func (a Always) Confirm(string) bool { return bool(a) }

// Sequencer orders tree reloads. Next is taken before a request goes out;
// Apply accepts a response only if nothing newer has been applied.
type Sequencer struct {
	issued  atomic.Uint64
	applied atomic.Uint64
}

// Next returns a fresh sequence number.
func (s *Sequencer) Next() uint64 {
	return s.issued.Add(1)
}

// Apply marks seq applied and reports true, or reports false when a newer
// sequence number already was.
func (s *Sequencer) Apply(seq uint64) bool {
	for {
		cur := s.applied.Load()
		if seq <= cur {
			return false
		}
		if s.applied.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// Applied returns the last applied sequence number.
func (s *Sequencer) Applied() uint64 {
	return s.applied.Load()
}
