package notify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/obslog"
)

// Webhook POSTs every event to an external delivery service. Each delivery
// runs on its own goroutine with a bounded timeout; errors are logged, never
// surfaced.
type Webhook struct {
	url  string
	http *fasthttp.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: strings.TrimSpace(url),
		http: &fasthttp.Client{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxConnsPerHost: 16,
		},
	}
}

type webhookEnvelope struct {
	ParticipantID string           `json:"participant_id,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	Kind          domain.EventKind `json:"kind"`
	Payload       any              `json:"payload"`
}

func (w *Webhook) post(env webhookEnvelope) {
	if w == nil || w.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(env)
		if err != nil {
			return
		}
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer func() {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		req.Header.SetMethod(fasthttp.MethodPost)
		req.SetRequestURI(w.url)
		req.Header.SetContentType("application/json")
		req.SetBody(body)
		if err := w.http.DoTimeout(req, resp, 5*time.Second); err != nil {
			obslog.L().Warn("webhook_post_error", zap.String("kind", string(env.Kind)), zap.Error(err))
		}
	}()
}

func (w *Webhook) NotifyParticipant(pid string, kind domain.EventKind, payload any) {
	w.post(webhookEnvelope{ParticipantID: pid, Kind: kind, Payload: payload})
}

func (w *Webhook) NotifySessionObservers(sid string, kind domain.EventKind, payload any) {
	w.post(webhookEnvelope{SessionID: sid, Kind: kind, Payload: payload})
}
