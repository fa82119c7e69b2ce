package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castlegate/arena/internal/board"
	"github.com/castlegate/arena/internal/challenge"
	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/matchmaking"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/session"
	"github.com/castlegate/arena/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := storage.NewMemStore(1200)
	hub := notify.NewHub(16)
	engine := session.NewEngine(store, board.NewOracle(), hub)
	pairer := matchmaking.NewPairer(store, engine, hub)
	challenges := challenge.NewManager(rdb, store, engine, hub, time.Minute)

	ts := httptest.NewServer(New(engine, pairer, challenges, store, hub).Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, ts *httptest.Server, method, path, pid, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if pid != "" {
		req.Header.Set(identityHeader, pid)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, ts, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}

func TestMissingIdentityHeader(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, ts, http.MethodPost, "/matchmaking", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing identity: %d", resp.StatusCode)
	}
}

func TestMatchmakingFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/matchmaking", "alice", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first enqueue: %d", resp.StatusCode)
	}
	resp, body := do(t, ts, http.MethodPost, "/matchmaking", "bob", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("pairing enqueue: %d (%s)", resp.StatusCode, body)
	}
	var res matchmaking.EnqueueResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Paired || res.SessionID == "" {
		t.Fatalf("pair result: %+v", res)
	}

	resp, _ = do(t, ts, http.MethodPost, "/matchmaking", "alice", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("busy enqueue: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodGet, "/matchmaking/status", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var st matchmaking.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !st.Paired || st.Role != domain.RoleWhite {
		t.Fatalf("status: %+v", st)
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, ts, http.MethodPost, "/matchmaking", "alice", "")
	resp, body := do(t, ts, http.MethodPost, "/matchmaking", "bob", "")
	var res matchmaking.EnqueueResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("unmarshal: %v (%d)", err, resp.StatusCode)
	}
	base := "/sessions/" + res.SessionID

	resp, _ = do(t, ts, http.MethodGet, base, "mallory", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider read: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodGet, "/sessions/nope", "alice", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: %d", resp.StatusCode)
	}

	resp, _ = do(t, ts, http.MethodPut, base+"/moves/e7e5", "bob", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("out-of-turn move: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPut, base+"/moves/e2e5", "alice", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("illegal move: %d", resp.StatusCode)
	}
	resp, body = do(t, ts, http.MethodPut, base+"/moves/e2e4", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("legal move: %d (%s)", resp.StatusCode, body)
	}
	var s domain.Session
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if s.FEN == "" || s.Status != domain.StatusActive {
		t.Fatalf("session after move: %+v", s)
	}

	resp, body = do(t, ts, http.MethodGet, base+"/moves", "bob", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list moves: %d", resp.StatusCode)
	}
	var moves struct {
		Moves []domain.MoveRecord `json:"moves"`
	}
	if err := json.Unmarshal(body, &moves); err != nil {
		t.Fatalf("unmarshal moves: %v", err)
	}
	if len(moves.Moves) != 1 || moves.Moves[0].UCI != "e2e4" {
		t.Fatalf("moves: %+v", moves.Moves)
	}

	resp, _ = do(t, ts, http.MethodPost, base+"/claim-timeout", "bob", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("premature timeout claim: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodPost, base+"/resign", "bob", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resign: %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("unmarshal resigned session: %v", err)
	}
	if s.Status != domain.StatusEnded || s.WinnerID != "alice" {
		t.Fatalf("resigned session: %+v", s)
	}
	resp, _ = do(t, ts, http.MethodPost, base+"/resign", "alice", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resign after end: %d", resp.StatusCode)
	}
}

func TestDrawEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, ts, http.MethodPost, "/matchmaking", "alice", "")
	_, body := do(t, ts, http.MethodPost, "/matchmaking", "bob", "")
	var res matchmaking.EnqueueResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	base := "/sessions/" + res.SessionID

	resp, _ := do(t, ts, http.MethodPost, base+"/respond-draw", "bob", `{"accept":true}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("respond without offer: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, base+"/offer-draw", "alice", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("offer draw: %d", resp.StatusCode)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/respond-draw", "bob", `{"accept":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept draw: %d", resp.StatusCode)
	}
	var s domain.Session
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Status != domain.StatusEnded || s.Reason != domain.ReasonDrawAgreement {
		t.Fatalf("drawn session: %+v", s)
	}
}

func TestChallengeEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/challenges", "alice", `{"target_id":"bob"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create challenge: %d (%s)", resp.StatusCode, body)
	}
	var c domain.Challenge
	if err := json.Unmarshal(body, &c); err != nil {
		t.Fatalf("unmarshal challenge: %v", err)
	}

	resp, _ = do(t, ts, http.MethodPost, "/challenges", "alice", `{"target_id":"carol"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second outstanding challenge: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodGet, "/challenges/pending", "bob", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending: %d", resp.StatusCode)
	}
	var pending struct {
		Challenges []domain.Challenge `json:"challenges"`
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending.Challenges) != 1 {
		t.Fatalf("pending: %+v", pending.Challenges)
	}

	resp, body = do(t, ts, http.MethodPost, "/challenges/"+c.ID+"/respond", "bob", `{"accept":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("accept challenge: %d (%s)", resp.StatusCode, body)
	}
	var s domain.Session
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if s.WhiteID != "alice" || s.BlackID != "bob" {
		t.Fatalf("challenge session roles: %+v", s)
	}
}

func TestRatingHistoryEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/ratings/alice", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ratings: %d", resp.StatusCode)
	}
	var out struct {
		ParticipantID string               `json:"participant_id"`
		Rating        int                  `json:"rating"`
		History       []domain.RatingEntry `json:"history"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Rating != 1200 || len(out.History) != 1 {
		t.Fatalf("fresh participant ratings: %+v", out)
	}
}
