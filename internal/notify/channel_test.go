package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewChannel(rdb)
}

func TestLatestValueOverwrites(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()

	if raw, err := c.Latest(ctx, "m1"); err != nil || raw != nil {
		t.Fatalf("expected empty latest, got %s %v", raw, err)
	}
	if err := c.Publish(ctx, "m1", duelapi.NewPlayerJoined("alice", []string{"alice"})); err != nil { t.Fatalf("Publish: %v", err) }
	if err := c.Publish(ctx, "m1", duelapi.NewStartRace(1, 2)); err != nil { t.Fatalf("Publish: %v", err) }

	raw, err := c.Latest(ctx, "m1")
	if err != nil { t.Fatalf("Latest: %v", err) }
	var got duelapi.StartRace
	if err := json.Unmarshal(raw, &got); err != nil { t.Fatalf("decode: %v", err) }
	if got.Type != duelapi.TypeStartRace || got.EndTime != 2 { t.Fatalf("unexpected latest: %+v", got) }
}

func TestGameOverCarriesNullWinner(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()
	if err := c.Publish(ctx, "m1", duelapi.NewGameOver("", duelapi.ReasonTimeLimit)); err != nil { t.Fatalf("Publish: %v", err) }
	raw, _ := c.Latest(ctx, "m1")
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil { t.Fatalf("decode: %v", err) }
	if v, ok := m["winner"]; !ok || v != nil { t.Fatalf("winner should be explicit null: %s", raw) }
	if m["reason"] != "TIME_LIMIT" { t.Fatalf("bad reason: %s", raw) }
}

func TestSubscribeReceivesLiveMessages(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()
	sub, err := c.Subscribe(ctx, "m1")
	if err != nil { t.Fatalf("Subscribe: %v", err) }
	defer sub.Close()

	if err := c.Publish(ctx, "m2", duelapi.NewStartRace(1, 2)); err != nil { t.Fatalf("Publish other: %v", err) }
	if err := c.Publish(ctx, "m1", duelapi.NewGameOver("bob", duelapi.ReasonSolved)); err != nil { t.Fatalf("Publish: %v", err) }

	select {
	case raw := <-sub.C():
		var got duelapi.GameOver
		if err := json.Unmarshal(raw, &got); err != nil { t.Fatalf("decode: %v", err) }
		if got.Winner == nil || *got.Winner != "bob" { t.Fatalf("unexpected message: %s", raw) }
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}

	if err := sub.Close(); err != nil { t.Fatalf("Close: %v", err) }
	if err := sub.Close(); err != nil { t.Fatalf("second Close: %v", err) }
}
