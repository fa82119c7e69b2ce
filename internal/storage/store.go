// Package storage owns durable state: sessions, move records, rating entries
// and the matchmaking queue. Two implementations exist: a mutex-guarded
// in-memory store (tests, single-node dev) and a Postgres store.
package storage

import (
	"context"
	"time"

	"github.com/castlegate/arena/internal/domain"
)

// ErrNotEnoughWaiting is returned by PromotePair when fewer than two
// participants are queued.
var ErrNotEnoughWaiting = staticErr("fewer than two participants waiting")

// ErrConflict signals that a commit lost a race: the session is no longer in
// the state the caller observed. The caller's operation made no change.
var ErrConflict = staticErr("session state changed concurrently")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Store is the persistence contract for the core. Every mutating method
// either fully commits or makes no visible change.
type Store interface {
	// CreateSession inserts an Active session. It fails with
	// domain.ErrAlreadyInSession when either participant already has an
	// Active session, and withdraws any queue entry held by either
	// participant in the same atomic step, so a participant is never
	// waiting and playing at once. Both session-creation paths rely on
	// this guard.
	CreateSession(ctx context.Context, s *domain.Session) error
	// GetSession returns (nil, nil) for an unknown id.
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// UpdateSession persists a still-active session and, when move is
	// non-nil, appends one move record atomically with it.
	UpdateSession(ctx context.Context, s *domain.Session, move *domain.MoveRecord) error
	// FinishSession is the terminal commit: the status flip, an optional
	// final move and exactly two rating entries succeed or fail together.
	// Fails with ErrConflict if the stored session is no longer Active.
	FinishSession(ctx context.Context, s *domain.Session, move *domain.MoveRecord, ratings []domain.RatingEntry) error

	ActiveSessionByParticipant(ctx context.Context, participantID string) (*domain.Session, error)
	ActiveSessionIDs(ctx context.Context) ([]string, error)
	MovesBySession(ctx context.Context, sessionID string) ([]domain.MoveRecord, error)
	MoveCount(ctx context.Context, sessionID string) (int, error)

	// LatestRating returns the participant's current rating entry, seeding
	// an initial entry on first sight so an entry always exists.
	LatestRating(ctx context.Context, participantID string) (domain.RatingEntry, error)
	RatingHistory(ctx context.Context, participantID string, limit int) ([]domain.RatingEntry, error)

	// Enqueue admits a waiting participant. Fails with
	// domain.ErrAlreadyQueued or domain.ErrAlreadyInSession.
	Enqueue(ctx context.Context, participantID string, at time.Time) error
	// DequeueEntry withdraws a waiting participant; domain.ErrNotQueued if absent.
	DequeueEntry(ctx context.Context, participantID string) error
	QueueDepth(ctx context.Context) (int, error)
	// PromotePair atomically removes the two oldest queue entries (ties
	// broken by insertion order) and inserts the session returned by build.
	// This is the system's only multi-row atomic operation.
	PromotePair(ctx context.Context, build func(first, second domain.QueueEntry) *domain.Session) (*domain.Session, error)
}
