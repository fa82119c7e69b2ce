package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/obslog"
)

// Hub is the explicit subscription registry: subscribers attach to a
// participant id or a session id and receive events over a buffered channel.
// Fan-out never blocks; an event for a subscriber with a full buffer is
// dropped. That keeps delivery strictly best-effort and lock-free for the
// caller.
type Hub struct {
	mu           sync.RWMutex
	participants map[string]map[int]chan Event
	sessions     map[string]map[int]chan Event
	nextID       int
	buffer       int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		participants: make(map[string]map[int]chan Event),
		sessions:     make(map[string]map[int]chan Event),
		buffer:       buffer,
	}
}

// Subscribe registers for a participant's events. The returned cancel func
// removes the subscription and closes the channel.
func (h *Hub) Subscribe(participantID string) (<-chan Event, func()) {
	return h.attach(h.participants, participantID)
}

// SubscribeSession registers for a session's observer events.
func (h *Hub) SubscribeSession(sessionID string) (<-chan Event, func()) {
	return h.attach(h.sessions, sessionID)
}

func (h *Hub) attach(reg map[string]map[int]chan Event, key string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, h.buffer)
	if reg[key] == nil {
		reg[key] = make(map[int]chan Event)
	}
	reg[key][id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := reg[key]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
				if len(subs) == 0 {
					delete(reg, key)
				}
			}
		}
	}
	return ch, cancel
}

func (h *Hub) dispatch(reg map[string]map[int]chan Event, key string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range reg[key] {
		select {
		case ch <- ev:
		default:
			obslog.L().Debug("notify_drop", zap.String("key", key), zap.String("kind", string(ev.Kind)))
		}
	}
}

func (h *Hub) NotifyParticipant(pid string, kind domain.EventKind, payload any) {
	h.dispatch(h.participants, pid, Event{Kind: kind, Payload: payload})
}

func (h *Hub) NotifySessionObservers(sid string, kind domain.EventKind, payload any) {
	h.dispatch(h.sessions, sid, Event{Kind: kind, Payload: payload})
}
