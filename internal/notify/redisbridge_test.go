package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castlegate/arena/internal/domain"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisBridgePublishesToUserChannel(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, UserChannel("alice"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil { // subscription confirmation
		t.Fatalf("subscribe: %v", err)
	}

	b := NewRedisBridge(rdb)
	b.NotifyParticipant("alice", domain.EventPaired, domain.PairedPayload{SessionID: "s1", Role: domain.RoleWhite})

	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Kind != domain.EventPaired {
			t.Fatalf("kind: %s", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no publish received")
	}
}

func TestRedisBridgeSessionChannelNames(t *testing.T) {
	if UserChannel(" alice ") != "arena:user:alice" {
		t.Fatalf("user channel: %q", UserChannel(" alice "))
	}
	if SessionChannel("s1") != "arena:session:s1" {
		t.Fatalf("session channel: %q", SessionChannel("s1"))
	}
}
