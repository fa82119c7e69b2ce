package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/obslog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS upgrades the connection and streams the caller's Hub subscription
// until the client disconnects. Identity comes from the same header the REST
// surface uses; a session_id query parameter additionally attaches the
// observer feed for that session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pid := participantID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "missing "+identityHeader)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(pid)
	defer cancel()

	var sessionEvents = events
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		ch, cancelSession := s.hub.SubscribeSession(sid)
		defer cancelSession()
		sessionEvents = ch
	}

	obslog.L().Info("ws_open", zap.String("participant_id", pid))

	// Reader goroutine: we never expect client frames, but reading is what
	// detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			obslog.L().Info("ws_close", zap.String("participant_id", pid))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case ev, ok := <-sessionEvents:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
