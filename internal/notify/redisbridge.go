package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/obslog"
)

// RedisBridge publishes every event to Redis pub/sub so other processes
// (or gateway replicas) can fan out to their own connected clients.
// Publish failures are logged and dropped.
type RedisBridge struct {
	rdb *redis.Client
}

func NewRedisBridge(rdb *redis.Client) *RedisBridge { return &RedisBridge{rdb: rdb} }

func UserChannel(participantID string) string { return "arena:user:" + strings.TrimSpace(participantID) }

func SessionChannel(sessionID string) string { return "arena:session:" + strings.TrimSpace(sessionID) }

func (b *RedisBridge) publish(channel string, ev Event) {
	if b == nil || b.rdb == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(context.Background(), channel, raw).Err(); err != nil {
		obslog.L().Warn("notify_publish_error", zap.String("channel", channel), zap.Error(err))
	}
}

func (b *RedisBridge) NotifyParticipant(pid string, kind domain.EventKind, payload any) {
	b.publish(UserChannel(pid), Event{Kind: kind, Payload: payload})
}

func (b *RedisBridge) NotifySessionObservers(sid string, kind domain.EventKind, payload any) {
	b.publish(SessionChannel(sid), Event{Kind: kind, Payload: payload})
}
