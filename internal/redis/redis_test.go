package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"chatkeeper/internal/config"
)

type payload struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func TestJSONRoundTripWithTTL(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := NewRedisClient(config.RedisConfig{Addr: server.Addr()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	if err := client.SetJSON(ctx, "k", payload{Title: "hi", Count: 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if raw, _ := server.Get("k"); raw != `{"title":"hi","count":2}` {
		t.Fatalf("unexpected stored value %s", raw)
	}
	if ttl := server.TTL("k"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	var got payload
	if err := client.GetJSON(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "hi" || got.Count != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}

	server.FastForward(2 * time.Minute)
	if err := client.GetJSON(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after expiry, got %v", err)
	}
}

func TestGetJSONRejectsGarbage(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := NewRedisClient(config.RedisConfig{Addr: server.Addr()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	server.Set("k", "not json")
	var got payload
	err = client.GetJSON(context.Background(), "k", &got)
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNewRedisClientFailures(t *testing.T) {
	if _, err := NewRedisClient(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	if _, err := NewRedisClient(config.RedisConfig{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure for closed server")
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if err := c.SetJSON(context.Background(), "k", 1, 0); err == nil {
		t.Fatalf("expected error from nil client")
	}
	var v int
	if err := c.GetJSON(context.Background(), "k", &v); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
