// Package events carries progress and discovery notifications out of the
// discovery engine. Emitting never blocks and never fails the caller.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

// Event kinds.
const (
	PhaseStarted   Type = "phase_started"
	PhaseProgress  Type = "phase_progress"
	PhaseCompleted Type = "phase_completed"
	PhaseError     Type = "phase_error"
	LinkDiscovered Type = "link_discovered"
)

// Event is one notification.
type Event struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Phase   string    `json:"phase,omitempty"`
	Message string    `json:"message,omitempty"`

	// URL and Source are set for LinkDiscovered.
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`

	// Done and Total are set for PhaseProgress.
	Done  int `json:"done,omitempty"`
	Total int `json:"total,omitempty"`
}

// New returns an event of type t with a fresh ID and the current time.
func New(t Type, phase, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Time:    time.Now(),
		Phase:   phase,
		Message: message,
	}
}

// Discovered returns a LinkDiscovered event.
func Discovered(url, source string) Event {
	e := New(LinkDiscovered, "", "")
	e.URL = url
	e.Source = source
	return e
}

// Progress returns a PhaseProgress event.
func Progress(phase string, done, total int) Event {
	e := New(PhaseProgress, phase, "")
	e.Done = done
	e.Total = total
	return e
}

// Sink receives events. Emit must not block.
type Sink interface {
	Emit(Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// LogSink writes events to a logger at debug level, errors at warn level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"event", e.Type, "id", e.ID}
	if e.Phase != "" {
		attrs = append(attrs, "phase", e.Phase)
	}
	if e.URL != "" {
		attrs = append(attrs, "url", e.URL, "source", e.Source)
	}
	if e.Total > 0 {
		attrs = append(attrs, "done", e.Done, "total", e.Total)
	}
	if e.Type == PhaseError {
		logger.Warn(e.Message, attrs...)
		return
	}
	logger.Debug(e.Message, attrs...)
}

// ChannelSink forwards events to a buffered channel and drops them when the
// buffer is full.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit implements Sink.
func (s *ChannelSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel. Later events are dropped.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
