// Package challenge implements the direct-invitation path into a session:
// one participant challenges another, who accepts or declines. Pending
// challenges live in Redis under a TTL; session creation goes through the
// same guarded path the matchmaking pairer uses, so neither flow can give a
// participant two concurrent active sessions.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/session"
	"github.com/castlegate/arena/internal/storage"
)

const defaultTTL = 10 * time.Minute

type Manager struct {
	rdb      *redis.Client
	store    storage.Store
	engine   *session.Engine
	notifier notify.Notifier
	ttl      time.Duration
}

func NewManager(rdb *redis.Client, store storage.Store, engine *session.Engine, notifier notify.Notifier, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{rdb: rdb, store: store, engine: engine, notifier: notifier, ttl: ttl}
}

func keyChallenge(id string) string    { return "chal:" + strings.TrimSpace(id) }
func keyOutstanding(pid string) string { return "chal:by:" + strings.TrimSpace(pid) }
func keyPendingFor(pid string) string  { return "chal:for:" + strings.TrimSpace(pid) }

// Create registers a challenge from challenger to target. A challenger may
// hold at most one outstanding challenge; neither party may already be in an
// active session.
func (m *Manager) Create(ctx context.Context, challengerID, targetID string) (*domain.Challenge, error) {
	challengerID = strings.TrimSpace(challengerID)
	targetID = strings.TrimSpace(targetID)
	if challengerID == "" || targetID == "" {
		return nil, fmt.Errorf("invalid participants")
	}
	if challengerID == targetID {
		return nil, domain.ErrSelfChallenge
	}
	for _, pid := range []string{challengerID, targetID} {
		active, err := m.store.ActiveSessionByParticipant(ctx, pid)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, domain.ErrAlreadyInSession
		}
	}

	c := &domain.Challenge{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		TargetID:     targetID,
		CreatedAt:    m.engine.Now(),
	}

	// one outstanding challenge per creator, enforced atomically
	ok, err := m.rdb.SetNX(ctx, keyOutstanding(challengerID), c.ID, m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrChallengePending
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, keyChallenge(c.ID), raw, m.ttl)
	pipe.SAdd(ctx, keyPendingFor(targetID), c.ID)
	pipe.Expire(ctx, keyPendingFor(targetID), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = m.rdb.Del(ctx, keyOutstanding(challengerID)).Err()
		return nil, err
	}

	obslog.L().Info("challenge_create",
		zap.String("challenge_id", c.ID),
		zap.String("challenger_id", challengerID),
		zap.String("target_id", targetID),
	)
	m.notifier.NotifyParticipant(targetID, domain.EventChallengeInvite,
		domain.ChallengeInvitePayload{ChallengeID: c.ID, ChallengerID: challengerID})
	return c, nil
}

func (m *Manager) load(ctx context.Context, id string) (*domain.Challenge, error) {
	raw, err := m.rdb.Get(ctx, keyChallenge(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Manager) remove(ctx context.Context, c *domain.Challenge) {
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, keyChallenge(c.ID))
	pipe.Del(ctx, keyOutstanding(c.ChallengerID))
	pipe.SRem(ctx, keyPendingFor(c.TargetID), c.ID)
	_, _ = pipe.Exec(ctx)
}

// Respond lets the target accept or decline. Accepting creates the session
// with the challenger as first mover; the underlying store rejects creation
// when either party became busy in the meantime, and the stale challenge is
// removed either way.
func (m *Manager) Respond(ctx context.Context, challengeID, responderID string, accept bool) (*domain.Session, error) {
	c, err := m.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrChallengeNotFound
	}
	if responderID != c.TargetID {
		return nil, domain.ErrNotChallengeTarget
	}

	if !accept {
		m.remove(ctx, c)
		obslog.L().Info("challenge_decline", zap.String("challenge_id", c.ID))
		m.notifier.NotifyParticipant(c.ChallengerID, domain.EventChallengeDeclined,
			domain.ChallengeDeclinedPayload{ChallengeID: c.ID, TargetID: c.TargetID})
		return nil, nil
	}

	s, err := m.engine.CreateDirect(ctx, c.ChallengerID, c.TargetID)
	if err != nil {
		// A challenge against a now-busy party is dead either way.
		m.remove(ctx, c)
		return nil, err
	}
	m.remove(ctx, c)
	obslog.L().Info("challenge_accept",
		zap.String("challenge_id", c.ID),
		zap.String("session_id", s.ID),
	)
	return s, nil
}

// Cancel withdraws the caller's outstanding challenge.
func (m *Manager) Cancel(ctx context.Context, challengerID string) error {
	id, err := m.rdb.Get(ctx, keyOutstanding(challengerID)).Result()
	if err == redis.Nil {
		return domain.ErrChallengeNotFound
	}
	if err != nil {
		return err
	}
	c, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		_ = m.rdb.Del(ctx, keyOutstanding(challengerID)).Err()
		return domain.ErrChallengeNotFound
	}
	m.remove(ctx, c)
	obslog.L().Info("challenge_cancel", zap.String("challenge_id", c.ID))
	return nil
}

// Pending returns the challenges awaiting this participant's response.
func (m *Manager) Pending(ctx context.Context, participantID string) ([]*domain.Challenge, error) {
	ids, err := m.rdb.SMembers(ctx, keyPendingFor(participantID)).Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.Challenge
	for _, id := range ids {
		c, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			// expired meta; drop the dangling index member
			_ = m.rdb.SRem(ctx, keyPendingFor(participantID), id).Err()
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
