package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/legacymind/cogmem/internal/store"
)

type recordingDispatcher struct {
	texts []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, instance, text string, at time.Time) {
	d.texts = append(d.texts, text)
}

func setupTestConsumer(t *testing.T) (*Consumer, *store.Gateway, *recordingDispatcher, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gw := store.NewFromClient(client, 5*time.Second, 5*time.Second)

	d := &recordingDispatcher{}
	c := NewConsumer(gw, d, "inst1")
	return c, gw, d, func() { gw.Close(); mr.Close() }
}

func TestDiscoverRegistersAndEvictsStreams(t *testing.T) {
	c, gw, _, cleanup := setupTestConsumer(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := gw.XAdd(ctx, "conversation:inst1:abc", 100, map[string]interface{}{"text": "hello"}); err != nil {
		t.Fatalf("XAdd: %v", err)
	}
	if err := c.discover(ctx); err != nil {
		t.Fatalf("discover: %v", err)
	}

	c.mu.Lock()
	_, tracked := c.lastID["conversation:inst1:abc"]
	c.mu.Unlock()
	if !tracked {
		t.Fatal("expected the new conversation stream to be tracked")
	}

	c.mu.Lock()
	c.lastActive["conversation:inst1:abc"] = time.Now().UTC().Add(-2 * evictAfter)
	c.mu.Unlock()

	if err := c.discover(ctx); err != nil {
		t.Fatalf("discover: %v", err)
	}
	c.mu.Lock()
	_, stillTracked := c.lastID["conversation:inst1:abc"]
	c.mu.Unlock()
	if stillTracked {
		t.Error("expected the inactive stream to be evicted")
	}
}

func TestPruneLockedEnforcesWindowAndCap(t *testing.T) {
	c, _, _, cleanup := setupTestConsumer(t)
	defer cleanup()

	now := time.Now().UTC()
	c.mu.Lock()
	c.buffer = append(c.buffer, bufferedMessage{instance: "inst1", text: "stale", at: now.Add(-2 * contextWindow)})
	c.buffer = append(c.buffer, bufferedMessage{instance: "inst1", text: "fresh", at: now})
	c.pruneLocked(now)
	c.mu.Unlock()

	buf := c.Buffer()
	if len(buf) != 1 || buf[0] != "fresh" {
		t.Errorf("expected only the fresh message to survive pruning, got %v", buf)
	}
}
