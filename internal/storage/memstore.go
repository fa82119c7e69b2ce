package storage

import (
	"context"
	"sync"
	"time"

	"github.com/castlegate/arena/internal/domain"
)

// MemStore is the in-memory Store. It backs tests and single-node runs
// without a DATABASE_URL. One mutex serializes everything; the critical
// sections are short (read-modify-write on maps).
type MemStore struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	moves       map[string][]domain.MoveRecord
	ratings     map[string][]domain.RatingEntry
	queue       []domain.QueueEntry // insertion order preserved for tie-breaks
	initialElo  int
	timeSource  func() time.Time
}

func NewMemStore(initialElo int) *MemStore {
	if initialElo <= 0 {
		initialElo = 1200
	}
	return &MemStore{
		sessions:   make(map[string]*domain.Session),
		moves:      make(map[string][]domain.MoveRecord),
		ratings:    make(map[string][]domain.RatingEntry),
		initialElo: initialElo,
		timeSource: time.Now,
	}
}

// SetTimeSource overrides the clock used for seeded rating entries.
func (m *MemStore) SetTimeSource(now func() time.Time) { m.timeSource = now }

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	return &c
}

func (m *MemStore) activeByParticipantLocked(pid string) *domain.Session {
	for _, s := range m.sessions {
		if s.Status == domain.StatusActive && s.HasParticipant(pid) {
			return s
		}
	}
	return nil
}

func (m *MemStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeByParticipantLocked(s.WhiteID) != nil || m.activeByParticipantLocked(s.BlackID) != nil {
		return domain.ErrAlreadyInSession
	}
	// A participant entering a session stops waiting; drop any queue entry
	// in the same critical section so the two states never coexist.
	m.removeQueuedLocked(s.WhiteID)
	m.removeQueuedLocked(s.BlackID)
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemStore) removeQueuedLocked(pid string) bool {
	for i, e := range m.queue {
		if e.ParticipantID == pid {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MemStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *MemStore) UpdateSession(_ context.Context, s *domain.Session, move *domain.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if cur.Status != domain.StatusActive {
		return ErrConflict
	}
	m.sessions[s.ID] = cloneSession(s)
	if move != nil {
		m.moves[s.ID] = append(m.moves[s.ID], *move)
	}
	return nil
}

func (m *MemStore) FinishSession(_ context.Context, s *domain.Session, move *domain.MoveRecord, ratings []domain.RatingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if cur.Status != domain.StatusActive {
		return ErrConflict
	}
	m.sessions[s.ID] = cloneSession(s)
	if move != nil {
		m.moves[s.ID] = append(m.moves[s.ID], *move)
	}
	for _, r := range ratings {
		m.ratings[r.ParticipantID] = append(m.ratings[r.ParticipantID], r)
	}
	return nil
}

func (m *MemStore) ActiveSessionByParticipant(_ context.Context, pid string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.activeByParticipantLocked(pid); s != nil {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (m *MemStore) ActiveSessionIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Status == domain.StatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemStore) MovesBySession(_ context.Context, sessionID string) ([]domain.MoveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MoveRecord, len(m.moves[sessionID]))
	copy(out, m.moves[sessionID])
	return out, nil
}

func (m *MemStore) MoveCount(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves[sessionID]), nil
}

func (m *MemStore) LatestRating(_ context.Context, pid string) (domain.RatingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestRatingLocked(pid), nil
}

func (m *MemStore) latestRatingLocked(pid string) domain.RatingEntry {
	hist := m.ratings[pid]
	if len(hist) == 0 {
		seed := domain.RatingEntry{
			ParticipantID: pid,
			Rating:        m.initialElo,
			CreatedAt:     m.timeSource(),
		}
		m.ratings[pid] = append(m.ratings[pid], seed)
		return seed
	}
	latest := hist[0]
	for _, e := range hist[1:] {
		if !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	return latest
}

func (m *MemStore) RatingHistory(_ context.Context, pid string, limit int) ([]domain.RatingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.ratings[pid]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]domain.RatingEntry, len(hist))
	copy(out, hist)
	return out, nil
}

func (m *MemStore) Enqueue(_ context.Context, pid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.ParticipantID == pid {
			return domain.ErrAlreadyQueued
		}
	}
	if m.activeByParticipantLocked(pid) != nil {
		return domain.ErrAlreadyInSession
	}
	m.queue = append(m.queue, domain.QueueEntry{ParticipantID: pid, JoinedAt: at})
	return nil
}

func (m *MemStore) DequeueEntry(_ context.Context, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeQueuedLocked(pid) {
		return domain.ErrNotQueued
	}
	return nil
}

func (m *MemStore) QueueDepth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

func (m *MemStore) PromotePair(_ context.Context, build func(first, second domain.QueueEntry) *domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) < 2 {
		return nil, ErrNotEnoughWaiting
	}
	fi, si := oldestTwo(m.queue)
	first, second := m.queue[fi], m.queue[si]
	s := build(first, second)
	if m.activeByParticipantLocked(first.ParticipantID) != nil || m.activeByParticipantLocked(second.ParticipantID) != nil {
		return nil, domain.ErrAlreadyInSession
	}
	hi, lo := fi, si
	if hi < lo {
		hi, lo = lo, hi
	}
	m.queue = append(m.queue[:hi], m.queue[hi+1:]...)
	m.queue = append(m.queue[:lo], m.queue[lo+1:]...)
	m.sessions[s.ID] = cloneSession(s)
	return cloneSession(s), nil
}

// oldestTwo returns the indices of the two earliest-joined entries, ties
// broken by insertion order. len(q) must be at least 2.
func oldestTwo(q []domain.QueueEntry) (int, int) {
	first, second := 0, 1
	if q[1].JoinedAt.Before(q[0].JoinedAt) {
		first, second = 1, 0
	}
	for i := 2; i < len(q); i++ {
		switch {
		case q[i].JoinedAt.Before(q[first].JoinedAt):
			second, first = first, i
		case q[i].JoinedAt.Before(q[second].JoinedAt):
			second = i
		}
	}
	return first, second
}
