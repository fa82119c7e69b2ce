package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castlegate/arena/internal/domain"
)

func activeSession(id, white, black string) *domain.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:         id,
		Status:     domain.StatusActive,
		FEN:        "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		WhiteID:    white,
		BlackID:    black,
		WhiteClock: 600,
		BlackClock: 600,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateSessionGuard(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	if err := m.CreateSession(ctx, activeSession("s1", "a", "b")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Either participant being busy blocks a second session.
	if err := m.CreateSession(ctx, activeSession("s2", "a", "c")); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("busy white: got %v, want ErrAlreadyInSession", err)
	}
	if err := m.CreateSession(ctx, activeSession("s3", "c", "b")); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("busy black: got %v, want ErrAlreadyInSession", err)
	}
}

func TestGetSessionUnknownID(t *testing.T) {
	m := NewMemStore(1200)
	s, err := m.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s != nil {
		t.Fatalf("unknown id must return nil, got %+v", s)
	}
}

func TestGetSessionReturnsCopy(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	if err := m.CreateSession(ctx, activeSession("s1", "a", "b")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, _ := m.GetSession(ctx, "s1")
	got.WhiteClock = 1
	again, _ := m.GetSession(ctx, "s1")
	if again.WhiteClock != 600 {
		t.Fatalf("mutation through returned pointer leaked into the store")
	}
}

func TestFinishSessionCommitsMoveAndRatings(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	s := activeSession("s1", "a", "b")
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	now := s.UpdatedAt.Add(5 * time.Second)
	s.Status = domain.StatusEnded
	s.WinnerID = "a"
	s.Reason = domain.ReasonCheckmate
	mv := &domain.MoveRecord{SessionID: "s1", Seq: 1, UCI: "e2e4", PlayedBy: domain.RoleWhite, CreatedAt: now}
	ratings := []domain.RatingEntry{
		{ParticipantID: "a", SessionID: "s1", Rating: 1216, CreatedAt: now},
		{ParticipantID: "b", SessionID: "s1", Rating: 1184, CreatedAt: now},
	}
	if err := m.FinishSession(ctx, s, mv, ratings); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	moves, _ := m.MovesBySession(ctx, "s1")
	if len(moves) != 1 || moves[0].UCI != "e2e4" {
		t.Fatalf("final move not recorded: %+v", moves)
	}
	ra, _ := m.LatestRating(ctx, "a")
	rb, _ := m.LatestRating(ctx, "b")
	if ra.Rating != 1216 || rb.Rating != 1184 {
		t.Fatalf("ratings: got %d/%d", ra.Rating, rb.Rating)
	}

	// A second terminal commit must be rejected: ratings apply exactly once.
	if err := m.FinishSession(ctx, s, nil, ratings); !errors.Is(err, ErrConflict) {
		t.Fatalf("double finish: got %v, want ErrConflict", err)
	}
	hist, _ := m.RatingHistory(ctx, "a", 0)
	if len(hist) != 1 {
		t.Fatalf("rating history after rejected double finish: %d entries", len(hist))
	}
}

func TestLatestRatingSeedsOnce(t *testing.T) {
	m := NewMemStore(1500)
	ctx := context.Background()
	r1, err := m.LatestRating(ctx, "fresh")
	if err != nil {
		t.Fatalf("LatestRating: %v", err)
	}
	if r1.Rating != 1500 || r1.SessionID != "" {
		t.Fatalf("seed entry: %+v", r1)
	}
	_, _ = m.LatestRating(ctx, "fresh")
	hist, _ := m.RatingHistory(ctx, "fresh", 0)
	if len(hist) != 1 {
		t.Fatalf("seed must be written once, history has %d entries", len(hist))
	}
}

func TestLatestRatingPicksNewestTimestamp(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	s := activeSession("s1", "a", "b")
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	base := s.UpdatedAt
	s.Status = domain.StatusEnded
	if err := m.FinishSession(ctx, s, nil, []domain.RatingEntry{
		{ParticipantID: "a", SessionID: "s1", Rating: 1216, CreatedAt: base.Add(time.Minute)},
		{ParticipantID: "b", SessionID: "s1", Rating: 1184, CreatedAt: base.Add(time.Minute)},
	}); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	r, _ := m.LatestRating(ctx, "a")
	if r.Rating != 1216 {
		t.Fatalf("latest by timestamp: got %d", r.Rating)
	}
}

func TestEnqueueConflicts(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	at := time.Now()
	if err := m.Enqueue(ctx, "a", at); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Enqueue(ctx, "a", at); !errors.Is(err, domain.ErrAlreadyQueued) {
		t.Fatalf("double enqueue: got %v", err)
	}
	if err := m.CreateSession(ctx, activeSession("s1", "b", "c")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.Enqueue(ctx, "b", at); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("busy enqueue: got %v", err)
	}
	if err := m.DequeueEntry(ctx, "zz"); !errors.Is(err, domain.ErrNotQueued) {
		t.Fatalf("dequeue absent: got %v", err)
	}
}

func TestCreateSessionWithdrawsQueueEntries(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	at := time.Now()
	for _, pid := range []string{"a", "b", "c"} {
		if err := m.Enqueue(ctx, pid, at); err != nil {
			t.Fatalf("Enqueue %s: %v", pid, err)
		}
	}
	// "a" starts a session through the direct path while still waiting.
	if err := m.CreateSession(ctx, activeSession("s1", "a", "x")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.DequeueEntry(ctx, "a"); !errors.Is(err, domain.ErrNotQueued) {
		t.Fatalf("queue entry survived session start: got %v", err)
	}
	if n, _ := m.QueueDepth(ctx); n != 2 {
		t.Fatalf("queue depth: got %d, want 2", n)
	}
	// The remaining waiters still pair.
	s, err := m.PromotePair(ctx, func(first, second domain.QueueEntry) *domain.Session {
		return activeSession("s2", first.ParticipantID, second.ParticipantID)
	})
	if err != nil {
		t.Fatalf("PromotePair: %v", err)
	}
	if s.WhiteID != "b" || s.BlackID != "c" {
		t.Fatalf("promoted pair: %s/%s", s.WhiteID, s.BlackID)
	}
}

func TestPromotePairTakesTwoOldest(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	at := time.Now()
	for i, pid := range []string{"a", "b", "c"} {
		if err := m.Enqueue(ctx, pid, at.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Enqueue %s: %v", pid, err)
		}
	}
	s, err := m.PromotePair(ctx, func(first, second domain.QueueEntry) *domain.Session {
		return activeSession("s1", first.ParticipantID, second.ParticipantID)
	})
	if err != nil {
		t.Fatalf("PromotePair: %v", err)
	}
	if s.WhiteID != "a" || s.BlackID != "b" {
		t.Fatalf("oldest two must be promoted in order, got %s/%s", s.WhiteID, s.BlackID)
	}
	if n, _ := m.QueueDepth(ctx); n != 1 {
		t.Fatalf("queue depth after promotion: %d", n)
	}
	if _, err := m.PromotePair(ctx, func(f, s2 domain.QueueEntry) *domain.Session {
		return activeSession("s2", f.ParticipantID, s2.ParticipantID)
	}); !errors.Is(err, ErrNotEnoughWaiting) {
		t.Fatalf("single waiter: got %v, want ErrNotEnoughWaiting", err)
	}
}

func TestPromotePairOrdersByJoinTime(t *testing.T) {
	m := NewMemStore(1200)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insertion order deliberately disagrees with the join timestamps.
	if err := m.Enqueue(ctx, "c", base.Add(2*time.Second)); err != nil {
		t.Fatalf("Enqueue c: %v", err)
	}
	if err := m.Enqueue(ctx, "a", base); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if err := m.Enqueue(ctx, "b", base.Add(time.Second)); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	s, err := m.PromotePair(ctx, func(first, second domain.QueueEntry) *domain.Session {
		return activeSession("s1", first.ParticipantID, second.ParticipantID)
	})
	if err != nil {
		t.Fatalf("PromotePair: %v", err)
	}
	if s.WhiteID != "a" || s.BlackID != "b" {
		t.Fatalf("earliest joiners must be promoted, got %s/%s", s.WhiteID, s.BlackID)
	}
	if n, _ := m.QueueDepth(ctx); n != 1 {
		t.Fatalf("queue depth after promotion: %d", n)
	}
	if err := m.DequeueEntry(ctx, "c"); err != nil {
		t.Fatalf("latecomer must still be queued: %v", err)
	}
}
