// Package matchmaking owns the waiting queue: it admits entries and promotes
// the two oldest into a new session. Promotion is the system's only
// multi-row atomic operation; the store scopes its critical section to
// exactly "read two oldest entries, delete them, insert one session".
package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/metrics"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/session"
	"github.com/castlegate/arena/internal/storage"
)

type Pairer struct {
	store    storage.Store
	engine   *session.Engine
	notifier notify.Notifier
}

func NewPairer(store storage.Store, engine *session.Engine, notifier notify.Notifier) *Pairer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pairer{store: store, engine: engine, notifier: notifier}
}

// EnqueueResult reports what the caller's own enqueue did. Paired is true
// only when this enqueue completed a pair; otherwise the caller is queued.
type EnqueueResult struct {
	Paired    bool
	SessionID string
	Role      domain.Role
}

// Enqueue admits the participant and synchronously attempts one pairing.
// A failed pairing attempt is retried once and otherwise logged, never
// surfaced: the caller always learns "queued" unless their own enqueue
// paired immediately.
func (p *Pairer) Enqueue(ctx context.Context, participantID string) (EnqueueResult, error) {
	if err := p.store.Enqueue(ctx, participantID, p.engine.Now()); err != nil {
		return EnqueueResult{}, err
	}
	obslog.L().Info("queue_join", zap.String("participant_id", participantID))
	p.updateDepthGauge(ctx)

	created := p.tryPair(ctx)
	if created == nil {
		return EnqueueResult{}, nil
	}
	if role := created.RoleOf(participantID); role != "" {
		return EnqueueResult{Paired: true, SessionID: created.ID, Role: role}, nil
	}
	return EnqueueResult{}, nil
}

// tryPair runs one promotion attempt (plus a single retry on a lost race)
// and returns the created session, if any.
func (p *Pairer) tryPair(ctx context.Context) *domain.Session {
	for attempt := 0; attempt < 2; attempt++ {
		created, err := p.store.PromotePair(ctx, func(first, second domain.QueueEntry) *domain.Session {
			// The earlier-joined entry takes the first-mover role.
			return p.engine.NewSession(first.ParticipantID, second.ParticipantID)
		})
		if err == nil {
			p.announce(created)
			p.updateDepthGauge(ctx)
			return created
		}
		if errors.Is(err, storage.ErrNotEnoughWaiting) {
			return nil
		}
		obslog.L().Warn("pairing_attempt_failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil
}

func (p *Pairer) announce(s *domain.Session) {
	metrics.Pairings.Inc()
	metrics.SessionsStarted.Inc()
	obslog.L().Info("queue_pair",
		zap.String("session_id", s.ID),
		zap.String("white_id", s.WhiteID),
		zap.String("black_id", s.BlackID),
	)
	p.notifier.NotifyParticipant(s.WhiteID, domain.EventPaired,
		domain.PairedPayload{SessionID: s.ID, Role: domain.RoleWhite, OpponentID: s.BlackID})
	p.notifier.NotifyParticipant(s.BlackID, domain.EventPaired,
		domain.PairedPayload{SessionID: s.ID, Role: domain.RoleBlack, OpponentID: s.WhiteID})
}

// Dequeue withdraws the participant's queue entry.
func (p *Pairer) Dequeue(ctx context.Context, participantID string) error {
	if err := p.store.DequeueEntry(ctx, participantID); err != nil {
		return err
	}
	obslog.L().Info("queue_leave", zap.String("participant_id", participantID))
	p.updateDepthGauge(ctx)
	return nil
}

// Status is the polling fallback for clients that do not trust push
// delivery: it reports whether the participant has an active session.
type Status struct {
	Paired    bool        `json:"paired"`
	SessionID string      `json:"session_id,omitempty"`
	Role      domain.Role `json:"role,omitempty"`
}

func (p *Pairer) Status(ctx context.Context, participantID string) (Status, error) {
	s, err := p.store.ActiveSessionByParticipant(ctx, participantID)
	if err != nil {
		return Status{}, fmt.Errorf("lookup active session: %w", err)
	}
	if s == nil {
		return Status{}, nil
	}
	return Status{Paired: true, SessionID: s.ID, Role: s.RoleOf(participantID)}, nil
}

func (p *Pairer) updateDepthGauge(ctx context.Context) {
	if n, err := p.store.QueueDepth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
