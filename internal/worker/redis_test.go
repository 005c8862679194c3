package worker

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"legalease/internal/config"
	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/redis"
)

func TestStateCacheStoreLoadAndInvalidate(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	history := []models.Turn{
		{Role: models.RoleUser, Text: "hello", CreatedAt: time.Now().UTC()},
		{Role: models.RoleAssistant, Text: "namaste", CreatedAt: time.Now().UTC()},
	}
	sc.cacheHistory("s-101", history)

	got, ok := sc.loadHistory("s-101")
	if !ok || len(got) != len(history) {
		t.Fatalf("history mismatch: want %d got %d", len(history), len(got))
	}
	if got[1].Text != "namaste" {
		t.Fatalf("unexpected turn %+v", got[1])
	}

	sc.invalidateHistory("s-101")
	if _, ok := sc.loadHistory("s-101"); ok {
		t.Fatalf("expected history invalidated")
	}
}

func TestStateCachePubSub(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	ch := make(chan invalidateMessage, 1)
	sc.startListener(func(msg invalidateMessage) {
		ch <- msg
	})
	// Give the subscription a moment to register.
	time.Sleep(50 * time.Millisecond)

	msg := invalidateMessage{SessionID: "s-6"}
	sc.publishInvalidation(msg)
	select {
	case got := <-ch:
		if got != msg {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func TestManagerRestoresHistoryFromRedis(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()
	sc.cacheHistory("returning", []models.Turn{
		{Role: models.RoleUser, Text: "earlier question"},
		{Role: models.RoleAssistant, Text: "earlier answer"},
	})

	factory := newMockFactory()
	m := NewManager(factory.open, logger.NewNop(), WithRedis(sc.client))
	defer m.Stop()

	if _, err := m.Ask(context.Background(), "returning", "next", ""); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if seeded := factory.seeded["returning"]; len(seeded) != 2 {
		t.Fatalf("conversation not seeded with history: %+v", seeded)
	}
	if got := len(m.History("returning")); got != 4 {
		t.Fatalf("expected 4 turns, got %d", got)
	}
}

func TestPurgeDuringAnswerLeavesNoHistory(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	release := make(chan struct{})
	factory := newMockFactory()
	factory.newConv = func() *mockConversation { return &mockConversation{block: release} }
	m := NewManager(factory.open, logger.NewNop(), WithRedis(sc.client))
	defer m.Stop()

	errs := queueBehindBlockedTask(t, m, "reset-me", 1)
	m.Purge("reset-me")
	close(release)
	for i := 0; i < 2; i++ {
		<-errs
	}
	conv := factory.convs["reset-me"]
	waitFor(t, func() bool { return atomic.LoadInt32(&conv.active) == 0 })
	time.Sleep(20 * time.Millisecond)

	if history, ok := sc.loadHistory("reset-me"); ok {
		t.Fatalf("purged history came back: %+v", history)
	}
}

func TestManagerStopClosesListener(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	m := NewManager(newMockFactory().open, logger.NewNop(), WithRedis(sc.client))
	m.cache.mu.Lock()
	subscribed := m.cache.pubsub != nil
	m.cache.mu.Unlock()
	if !subscribed {
		t.Fatalf("listener not subscribed")
	}

	m.Stop()
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	if m.cache.pubsub != nil {
		t.Fatalf("listener still open after Stop")
	}
}

func newRedisStateCache(t *testing.T) (*stateRedis, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: true,
			Host:    host,
			Port:    port,
			DB:      db,
		},
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	if raw := client.Raw(); raw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	sc := newStateCache(client, logger.NewNop())
	cleanup := func() {
		client.Close()
	}
	return sc, cleanup
}
