// Package gateway is the thin HTTP/WebSocket surface over the core. It maps
// header identity and URL parameters onto engine calls and core errors onto
// status codes; it holds no game logic of its own.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/challenge"
	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/matchmaking"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/session"
	"github.com/castlegate/arena/internal/storage"
)

const identityHeader = "X-Participant-Id"

type Server struct {
	engine     *session.Engine
	pairer     *matchmaking.Pairer
	challenges *challenge.Manager
	store      storage.Store
	hub        *notify.Hub
}

func New(engine *session.Engine, pairer *matchmaking.Pairer, challenges *challenge.Manager, store storage.Store, hub *notify.Hub) *Server {
	return &Server{engine: engine, pairer: pairer, challenges: challenges, store: store, hub: hub}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/matchmaking", s.handleEnqueue)
	r.Delete("/matchmaking", s.handleDequeue)
	r.Get("/matchmaking/status", s.handleQueueStatus)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Get("/moves", s.handleListMoves)
		r.Put("/moves/{move}", s.handleSubmitMove)
		r.Post("/resign", s.handleResign)
		r.Post("/offer-draw", s.handleOfferDraw)
		r.Post("/respond-draw", s.handleRespondDraw)
		r.Post("/claim-timeout", s.handleClaimTimeout)
	})

	r.Post("/challenges", s.handleCreateChallenge)
	r.Delete("/challenges", s.handleCancelChallenge)
	r.Get("/challenges/pending", s.handlePendingChallenges)
	r.Post("/challenges/{id}/respond", s.handleRespondChallenge)

	r.Get("/ratings/{participant}", s.handleRatingHistory)

	r.Get("/ws", s.handleWS)

	return r
}

func participantID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(identityHeader))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	res, err := s.pairer.Enqueue(r.Context(), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if res.Paired {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	if err := s.pairer.Dequeue(r.Context(), pid); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	st, err := s.pairer.Status(r.Context(), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	sess, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMoves(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Get(r.Context(), id, pid); err != nil {
		writeCoreError(w, err)
		return
	}
	moves, err := s.store.MovesBySession(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moves": moves})
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	mv := strings.TrimSpace(chi.URLParam(r, "move"))
	if mv == "" {
		writeError(w, http.StatusBadRequest, "missing move")
		return
	}
	sess, err := s.engine.SubmitMove(r.Context(), chi.URLParam(r, "id"), pid, mv)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	sess, err := s.engine.Resign(r.Context(), chi.URLParam(r, "id"), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleOfferDraw(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	if err := s.engine.OfferDraw(r.Context(), chi.URLParam(r, "id"), pid); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type respondBody struct {
	Accept bool `json:"accept"`
}

func (s *Server) handleRespondDraw(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess, err := s.engine.RespondDraw(r.Context(), chi.URLParam(r, "id"), pid, body.Accept)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClaimTimeout(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	sess, err := s.engine.ClaimTimeout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type createChallengeBody struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	var body createChallengeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.TargetID) == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c, err := s.challenges.Create(r.Context(), pid, body.TargetID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCancelChallenge(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	if err := s.challenges.Cancel(r.Context(), pid); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingChallenges(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	pending, err := s.challenges.Pending(r.Context(), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": pending})
}

func (s *Server) handleRespondChallenge(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess, err := s.challenges.Respond(r.Context(), chi.URLParam(r, "id"), pid, body.Accept)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleRatingHistory(w http.ResponseWriter, r *http.Request) {
	pid := strings.TrimSpace(chi.URLParam(r, "participant"))
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing participant")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	current, err := s.store.LatestRating(r.Context(), pid)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	history, err := s.store.RatingHistory(r.Context(), pid, limit)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participant_id": pid,
		"rating":         current.Rating,
		"history":        history,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoreError maps core sentinel errors onto status codes. Anything
// unmapped is an internal failure.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrNotChallengeTarget):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSelfChallenge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSessionEnded),
		errors.Is(err, domain.ErrNoTimeoutYet),
		errors.Is(err, domain.ErrNoDrawOffer),
		errors.Is(err, domain.ErrOwnDrawOffer),
		errors.Is(err, domain.ErrAlreadyQueued),
		errors.Is(err, domain.ErrAlreadyInSession),
		errors.Is(err, domain.ErrNotQueued),
		errors.Is(err, domain.ErrChallengePending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotYourTurn),
		errors.Is(err, domain.ErrIllegalMove):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		obslog.L().Error("gateway_internal_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
