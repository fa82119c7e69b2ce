// Package session owns the lifecycle of one game session: turn enforcement,
// clock accounting, move application, the draw-offer protocol, resignation
// and timeout adjudication. All mutating operations on one session are
// serialized behind a per-session mutex; operations on different sessions
// never block each other. Notifications are dispatched after the lock is
// released and never affect committed state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/board"
	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/metrics"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/rating"
	"github.com/castlegate/arena/internal/storage"
)

type Engine struct {
	store    storage.Store
	oracle   board.Oracle
	notifier notify.Notifier
	now      func() time.Time

	clockBudget int // initial seconds per side
	kFactor     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Engine)

// WithClock overrides the wall-clock source; tests inject a fake.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClockBudget sets the per-side time budget in seconds.
func WithClockBudget(seconds int) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.clockBudget = seconds
		}
	}
}

// WithKFactor overrides the Elo K-factor.
func WithKFactor(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.kFactor = k
		}
	}
}

func NewEngine(store storage.Store, oracle board.Oracle, notifier notify.Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		oracle:      oracle,
		notifier:    notifier,
		now:         time.Now,
		clockBudget: 600,
		kFactor:     rating.DefaultK,
		locks:       make(map[string]*sync.Mutex),
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's wall-clock reading (fake-able in tests).
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[sessionID]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[sessionID] = lk
	}
	return lk
}

// releaseIfDone drops the per-session mutex once no further mutation can
// reach the session, keeping the lock map bounded by live sessions. A late
// caller racing this gets a fresh mutex and fails the loadActive check, so
// the brief double-mutex window never guards a mutable session.
func (e *Engine) releaseIfDone(sessionID string, s *domain.Session, err error) {
	done := (s != nil && s.Status == domain.StatusEnded) ||
		errors.Is(err, domain.ErrSessionEnded) ||
		errors.Is(err, domain.ErrSessionNotFound)
	if !done {
		return
	}
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
}

// event is a pending notification, emitted only after the session lock is
// released and the state change has committed.
type event struct {
	participants []string
	sessionID    string
	kind         domain.EventKind
	payload      any
}

func (e *Engine) emit(events []event) {
	for _, ev := range events {
		for _, pid := range ev.participants {
			e.notifier.NotifyParticipant(pid, ev.kind, ev.payload)
		}
		if ev.sessionID != "" {
			e.notifier.NotifySessionObservers(ev.sessionID, ev.kind, ev.payload)
		}
	}
}

// NewSession builds (without persisting) an Active session with fresh clocks
// and the starting position. The first argument takes the first-mover role.
func (e *Engine) NewSession(whiteID, blackID string) *domain.Session {
	now := e.now()
	return &domain.Session{
		ID:         uuid.NewString(),
		Status:     domain.StatusActive,
		FEN:        e.oracle.StartingPosition(),
		WhiteID:    whiteID,
		BlackID:    blackID,
		WhiteClock: e.clockBudget,
		BlackClock: e.clockBudget,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CreateDirect persists a new session outside the matchmaking queue (the
// direct-challenge path). The store rejects it when either participant
// already has an active session, the same guard pairing relies on, and
// withdraws any queue entry the two hold: accepting a challenge while
// waiting leaves the queue.
func (e *Engine) CreateDirect(ctx context.Context, whiteID, blackID string) (*domain.Session, error) {
	if whiteID == blackID {
		return nil, domain.ErrSelfChallenge
	}
	s := e.NewSession(whiteID, blackID)
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("white_id", s.WhiteID),
		zap.String("black_id", s.BlackID),
		zap.String("origin", "challenge"),
	)
	e.emit([]event{
		{participants: []string{whiteID}, kind: domain.EventPaired,
			payload: domain.PairedPayload{SessionID: s.ID, Role: domain.RoleWhite, OpponentID: blackID}},
		{participants: []string{blackID}, kind: domain.EventPaired,
			payload: domain.PairedPayload{SessionID: s.ID, Role: domain.RoleBlack, OpponentID: whiteID}},
	})
	return s, nil
}

// Get returns the session, restricted to its participants.
func (e *Engine) Get(ctx context.Context, sessionID, actorID string) (*domain.Session, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	if !s.HasParticipant(actorID) {
		return nil, domain.ErrNotParticipant
	}
	return s, nil
}

// loadActive applies the shared preconditions: the session exists, is still
// active and (when actorID is non-empty) the actor is one of its two roles.
func (e *Engine) loadActive(ctx context.Context, sessionID, actorID string) (*domain.Session, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	if s.Status != domain.StatusActive {
		return nil, domain.ErrSessionEnded
	}
	if actorID != "" && !s.HasParticipant(actorID) {
		return nil, domain.ErrNotParticipant
	}
	return s, nil
}

// SubmitMove applies one move for the acting participant. The clock of the
// side to move is charged for the elapsed wall time first; if that drives it
// to zero the session terminates by timeout and the move is never applied.
// A move rejected by the oracle still keeps the clock deduction (a real
// clock does not rewind), but changes nothing else.
func (e *Engine) SubmitMove(ctx context.Context, sessionID, actorID, move string) (*domain.Session, error) {
	lk := e.lockFor(sessionID)
	lk.Lock()
	s, events, err := e.submitMoveLocked(ctx, sessionID, actorID, move)
	lk.Unlock()
	e.releaseIfDone(sessionID, s, err)
	e.emit(events)
	return s, err
}

func (e *Engine) submitMoveLocked(ctx context.Context, sessionID, actorID, move string) (*domain.Session, []event, error) {
	s, err := e.loadActive(ctx, sessionID, actorID)
	if err != nil {
		return nil, nil, err
	}

	mover, err := e.oracle.SideToMove(s.FEN)
	if err != nil {
		return nil, nil, fmt.Errorf("derive side to move: %w", err)
	}
	if s.RoleOf(actorID) != mover {
		return nil, nil, domain.ErrNotYourTurn
	}

	now := e.now()
	elapsed := int(now.Sub(s.UpdatedAt).Seconds())
	s.SetClock(mover, s.ClockFor(mover)-elapsed)

	if s.ClockFor(mover) <= 0 {
		// Expired before the move: adjudicate the timeout, never apply it.
		s, evs, err := e.commitTimeout(ctx, s, mover, now)
		return s, evs, err
	}

	applied, err := e.oracle.Apply(s.FEN, move)
	if errors.Is(err, domain.ErrIllegalMove) {
		// Keep the clock deduction and advance the accounting timestamp so
		// the same elapsed time is not charged twice.
		s.UpdatedAt = now
		if uerr := e.store.UpdateSession(ctx, s, nil); uerr != nil {
			return nil, nil, fmt.Errorf("persist clock on rejected move: %w", uerr)
		}
		metrics.IllegalMoves.Inc()
		return nil, nil, domain.ErrIllegalMove
	}
	if err != nil {
		return nil, nil, fmt.Errorf("apply move: %w", err)
	}

	seq, err := e.store.MoveCount(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("count moves: %w", err)
	}
	record := &domain.MoveRecord{
		SessionID: s.ID,
		Seq:       seq + 1,
		UCI:       applied.UCI,
		SAN:       applied.SAN,
		PlayedBy:  mover,
		CreatedAt: now,
	}
	s.DrawOfferBy = "" // any pending offer lapses on a move
	s.FEN = applied.FEN
	s.UpdatedAt = now

	verdict, err := e.oracle.Terminal(s.FEN)
	if err != nil {
		return nil, nil, fmt.Errorf("terminal check: %w", err)
	}
	if verdict != board.VerdictNone {
		winnerID, reason := outcomeFromVerdict(verdict, actorID)
		s2, evs, err := e.commitFinish(ctx, s, record, winnerID, reason, now)
		if err != nil {
			return nil, nil, err
		}
		evs = append([]event{moveEvent(s2, record, true)}, evs...)
		return s2, evs, nil
	}

	if err := e.store.UpdateSession(ctx, s, record); err != nil {
		return nil, nil, fmt.Errorf("commit move: %w", err)
	}
	metrics.MovesApplied.Inc()
	obslog.L().Info("session_move",
		zap.String("session_id", s.ID),
		zap.String("actor_id", actorID),
		zap.Int("seq", record.Seq),
		zap.String("uci", record.UCI),
		zap.Int("white_clock", s.WhiteClock),
		zap.Int("black_clock", s.BlackClock),
	)
	return s, []event{moveEvent(s, record, false)}, nil
}

func moveEvent(s *domain.Session, mv *domain.MoveRecord, ended bool) event {
	return event{
		participants: []string{s.WhiteID, s.BlackID},
		sessionID:    s.ID,
		kind:         domain.EventMoveApplied,
		payload: domain.MoveAppliedPayload{
			SessionID:  s.ID,
			Seq:        mv.Seq,
			UCI:        mv.UCI,
			SAN:        mv.SAN,
			FEN:        s.FEN,
			WhiteClock: s.WhiteClock,
			BlackClock: s.BlackClock,
			Ended:      ended,
		},
	}
}

func outcomeFromVerdict(v board.Verdict, moverID string) (winnerID string, reason domain.TerminationReason) {
	switch v {
	case board.VerdictCheckmate:
		return moverID, domain.ReasonCheckmate
	case board.VerdictStalemate:
		return "", domain.ReasonStalemate
	case board.VerdictInsufficientMaterial:
		return "", domain.ReasonInsufficientMaterial
	default:
		return "", domain.ReasonSeventyFiveMoves
	}
}

// Resign ends the session with the opponent as winner.
func (e *Engine) Resign(ctx context.Context, sessionID, actorID string) (*domain.Session, error) {
	lk := e.lockFor(sessionID)
	lk.Lock()
	s, events, err := e.resignLocked(ctx, sessionID, actorID)
	lk.Unlock()
	e.releaseIfDone(sessionID, s, err)
	e.emit(events)
	return s, err
}

func (e *Engine) resignLocked(ctx context.Context, sessionID, actorID string) (*domain.Session, []event, error) {
	s, err := e.loadActive(ctx, sessionID, actorID)
	if err != nil {
		return nil, nil, err
	}
	return e.commitFinish(ctx, s, nil, s.Opponent(actorID), domain.ReasonResignation, e.now())
}

// OfferDraw records a pending draw offer by the actor.
func (e *Engine) OfferDraw(ctx context.Context, sessionID, actorID string) error {
	lk := e.lockFor(sessionID)
	lk.Lock()
	events, err := e.offerDrawLocked(ctx, sessionID, actorID)
	lk.Unlock()
	e.releaseIfDone(sessionID, nil, err)
	e.emit(events)
	return err
}

func (e *Engine) offerDrawLocked(ctx context.Context, sessionID, actorID string) ([]event, error) {
	s, err := e.loadActive(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	s.DrawOfferBy = actorID
	if err := e.store.UpdateSession(ctx, s, nil); err != nil {
		return nil, fmt.Errorf("persist draw offer: %w", err)
	}
	obslog.L().Info("session_draw_offer", zap.String("session_id", s.ID), zap.String("actor_id", actorID))
	return []event{{
		participants: []string{s.Opponent(actorID)},
		sessionID:    s.ID,
		kind:         domain.EventDrawOffered,
		payload:      domain.DrawOfferedPayload{SessionID: s.ID, OfferedBy: actorID},
	}}, nil
}

// RespondDraw accepts or declines the pending offer. Only the non-offering
// participant may respond. Accepting terminates the session as a draw.
func (e *Engine) RespondDraw(ctx context.Context, sessionID, actorID string, accept bool) (*domain.Session, error) {
	lk := e.lockFor(sessionID)
	lk.Lock()
	s, events, err := e.respondDrawLocked(ctx, sessionID, actorID, accept)
	lk.Unlock()
	e.releaseIfDone(sessionID, s, err)
	e.emit(events)
	return s, err
}

func (e *Engine) respondDrawLocked(ctx context.Context, sessionID, actorID string, accept bool) (*domain.Session, []event, error) {
	s, err := e.loadActive(ctx, sessionID, actorID)
	if err != nil {
		return nil, nil, err
	}
	if s.DrawOfferBy == "" {
		return nil, nil, domain.ErrNoDrawOffer
	}
	if s.DrawOfferBy == actorID {
		return nil, nil, domain.ErrOwnDrawOffer
	}
	if !accept {
		s.DrawOfferBy = ""
		if err := e.store.UpdateSession(ctx, s, nil); err != nil {
			return nil, nil, fmt.Errorf("persist draw decline: %w", err)
		}
		obslog.L().Info("session_draw_decline", zap.String("session_id", s.ID), zap.String("actor_id", actorID))
		return s, []event{{
			participants: []string{s.Opponent(actorID)},
			sessionID:    s.ID,
			kind:         domain.EventDrawDeclined,
			payload:      domain.DrawDeclinedPayload{SessionID: s.ID, DeclinedBy: actorID},
		}}, nil
	}
	return e.commitFinish(ctx, s, nil, "", domain.ReasonDrawAgreement, e.now())
}

// ClaimTimeout recomputes the running clock from elapsed time and, if it has
// expired, terminates the session. Callable by either participant or by the
// sweeper; this is the explicit poll for sessions sitting expired-but-
// unterminated. Fails with domain.ErrNoTimeoutYet when time remains.
func (e *Engine) ClaimTimeout(ctx context.Context, sessionID string) (*domain.Session, error) {
	lk := e.lockFor(sessionID)
	lk.Lock()
	s, events, err := e.claimTimeoutLocked(ctx, sessionID)
	lk.Unlock()
	e.releaseIfDone(sessionID, s, err)
	e.emit(events)
	return s, err
}

func (e *Engine) claimTimeoutLocked(ctx context.Context, sessionID string) (*domain.Session, []event, error) {
	s, err := e.loadActive(ctx, sessionID, "")
	if err != nil {
		return nil, nil, err
	}
	mover, err := e.oracle.SideToMove(s.FEN)
	if err != nil {
		return nil, nil, fmt.Errorf("derive side to move: %w", err)
	}
	now := e.now()
	elapsed := int(now.Sub(s.UpdatedAt).Seconds())
	if s.ClockFor(mover)-elapsed > 0 {
		return nil, nil, domain.ErrNoTimeoutYet
	}
	s.SetClock(mover, 0)
	return e.commitTimeout(ctx, s, mover, now)
}

// commitTimeout adjudicates clock expiry for the given role. A flag fall is
// a loss for that side unless the position has insufficient mating material,
// in which case it is scored as a draw (standard rules).
func (e *Engine) commitTimeout(ctx context.Context, s *domain.Session, expired domain.Role, now time.Time) (*domain.Session, []event, error) {
	winnerID := s.Participant(expired.Opposite())
	reason := domain.ReasonTimeout
	if insufficient, err := e.oracle.InsufficientMaterial(s.FEN); err == nil && insufficient {
		winnerID = ""
		reason = domain.ReasonInsufficientMaterial
	}
	return e.commitFinish(ctx, s, nil, winnerID, reason, now)
}

// commitFinish performs the terminal commit: outcome, status flip and the
// two rating entries succeed or fail as one unit. Ratings are looked up at
// commit time, never cached.
func (e *Engine) commitFinish(ctx context.Context, s *domain.Session, mv *domain.MoveRecord, winnerID string, reason domain.TerminationReason, now time.Time) (*domain.Session, []event, error) {
	white, err := e.store.LatestRating(ctx, s.WhiteID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup rating: %w", err)
	}
	black, err := e.store.LatestRating(ctx, s.BlackID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup rating: %w", err)
	}

	var newWhite, newBlack int
	switch winnerID {
	case "":
		newWhite, newBlack = rating.AfterDrawK(white.Rating, black.Rating, e.kFactor)
	case s.WhiteID:
		newWhite, newBlack = rating.AfterDecisiveK(white.Rating, black.Rating, e.kFactor)
	default:
		newBlack, newWhite = rating.AfterDecisiveK(black.Rating, white.Rating, e.kFactor)
	}

	s.Status = domain.StatusEnded
	s.WinnerID = winnerID
	s.Reason = reason
	s.DrawOfferBy = ""
	s.UpdatedAt = now

	entries := []domain.RatingEntry{
		{ParticipantID: s.WhiteID, SessionID: s.ID, Rating: newWhite, CreatedAt: now},
		{ParticipantID: s.BlackID, SessionID: s.ID, Rating: newBlack, CreatedAt: now},
	}
	if err := e.store.FinishSession(ctx, s, mv, entries); err != nil {
		return nil, nil, fmt.Errorf("terminal commit: %w", err)
	}
	if mv != nil {
		metrics.MovesApplied.Inc()
	}
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	obslog.L().Info("session_end",
		zap.String("session_id", s.ID),
		zap.String("winner_id", winnerID),
		zap.String("reason", string(reason)),
		zap.Int("white_rating", newWhite),
		zap.Int("black_rating", newBlack),
	)
	return s, []event{{
		participants: []string{s.WhiteID, s.BlackID},
		sessionID:    s.ID,
		kind:         domain.EventSessionEnded,
		payload:      domain.SessionEndedPayload{SessionID: s.ID, WinnerID: winnerID, Reason: reason},
	}}, nil
}
