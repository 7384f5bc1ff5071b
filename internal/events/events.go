// Package events provides EventSink and ProgressSink implementations:
// a zerolog-backed sink for production and a recording sink for tests.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// LogSink emits terminal events and status transitions as structured log
// lines. It is the default sink when no external notifier is wired.
type LogSink struct {
	log zerolog.Logger
}

var (
	_ contracts.EventSink    = (*LogSink)(nil)
	_ contracts.ProgressSink = (*LogSink)(nil)
)

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "events").Logger()}
}

// Emit logs one terminal event.
func (s *LogSink) Emit(ev contracts.Event) {
	s.log.Info().
		Str("event", string(ev.Type)).
		Str("task", string(ev.TaskID)).
		Str("id", ev.ID).
		Msg(ev.Message)
}

// Observe logs one status transition.
func (s *LogSink) Observe(id contracts.TaskID, from, to contracts.TaskStatus) {
	s.log.Info().
		Str("task", string(id)).
		Stringer("from", from).
		Stringer("to", to).
		Msg("task transition")
}

// Recorder captures events and transitions in memory for assertions.
type Recorder struct {
	mu          sync.Mutex
	events      []contracts.Event
	transitions []Transition
}

// Transition is one observed status change.
type Transition struct {
	TaskID   contracts.TaskID
	From, To contracts.TaskStatus
}

var (
	_ contracts.EventSink    = (*Recorder)(nil)
	_ contracts.ProgressSink = (*Recorder)(nil)
)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records the event.
func (r *Recorder) Emit(ev contracts.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Observe records the transition.
func (r *Recorder) Observe(id contracts.TaskID, from, to contracts.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, Transition{TaskID: id, From: from, To: to})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Event(nil), r.events...)
}

// EventsOf returns recorded events of one type.
func (r *Recorder) EventsOf(typ contracts.EventType) []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []contracts.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Transitions returns a copy of the recorded transitions.
func (r *Recorder) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}
