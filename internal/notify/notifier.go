// Package notify delivers session and queue events to participants and
// session observers. Delivery is fire-and-forget: the core never awaits a
// result, and a sink failure never affects committed state.
package notify

import "github.com/castlegate/arena/internal/domain"

// Notifier is the sink interface the core pushes events into.
type Notifier interface {
	NotifyParticipant(participantID string, kind domain.EventKind, payload any)
	NotifySessionObservers(sessionID string, kind domain.EventKind, payload any)
}

// Event is one delivered notification.
type Event struct {
	Kind    domain.EventKind `json:"kind"`
	Payload any              `json:"payload"`
}

// Fanout composes sinks into one Notifier.
func Fanout(sinks ...Notifier) Notifier { return fanout(sinks) }

type fanout []Notifier

func (f fanout) NotifyParticipant(pid string, kind domain.EventKind, payload any) {
	for _, s := range f {
		s.NotifyParticipant(pid, kind, payload)
	}
}

func (f fanout) NotifySessionObservers(sid string, kind domain.EventKind, payload any) {
	for _, s := range f {
		s.NotifySessionObservers(sid, kind, payload)
	}
}

// Nop is a Notifier that drops everything. Useful default for tests.
type Nop struct{}

func (Nop) NotifyParticipant(string, domain.EventKind, any)      {}
func (Nop) NotifySessionObservers(string, domain.EventKind, any) {}
