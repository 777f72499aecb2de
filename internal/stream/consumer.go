// Package stream implements the Stream Consumers component: a
// discovery task that finds active conversation streams, and a reader
// task that blocks on all of them plus the instance thought stream,
// buffering and dispatching messages to the monitor.
package stream

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/legacymind/cogmem/internal/store"
)

const (
	discoveryInterval = 10 * time.Second
	evictAfter        = time.Hour
	contextWindow     = 30 * time.Minute
	bufferCap         = 1000

	readBlock = time.Second
	readCount = 10
)

// Dispatcher is what a consumed message is handed to. tools.Service
// implements this by running entity detection, flow analysis, and
// pattern matching over the message text and feeding the monitor.
type Dispatcher interface {
	Dispatch(ctx context.Context, instance, text string, at time.Time)
}

// bufferedMessage is one entry in the in-memory ring.
type bufferedMessage struct {
	instance string
	text     string
	at       time.Time
}

// Consumer discovers and tails conversation streams, pruning inactive
// streams and stale buffered messages.
type Consumer struct {
	gw         *store.Gateway
	dispatcher Dispatcher
	instance   string

	mu         sync.Mutex
	lastID     map[string]string // stream key -> last read id
	lastActive map[string]time.Time
	buffer     []bufferedMessage
}

func NewConsumer(gw *store.Gateway, dispatcher Dispatcher, instance string) *Consumer {
	return &Consumer{
		gw:         gw,
		dispatcher: dispatcher,
		instance:   instance,
		lastID:     map[string]string{},
		lastActive: map[string]time.Time{},
	}
}

func (c *Consumer) thoughtStreamKey() string { return c.instance + ":thought_stream" }

// discover scans for conversation:*:* streams, registering any not yet
// tracked and evicting any inactive for more than an hour.
func (c *Consumer) discover(ctx context.Context) error {
	err := c.gw.Scan(ctx, "conversation:*:*", 100, func(keys []string) bool {
		for _, k := range keys {
			c.mu.Lock()
			if _, ok := c.lastID[k]; !ok {
				c.lastID[k] = "$"
				c.lastActive[k] = time.Now().UTC()
			}
			c.mu.Unlock()
		}
		return true
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().UTC().Add(-evictAfter)
	for k, last := range c.lastActive {
		if strings.HasPrefix(k, "conversation:") && last.Before(cutoff) {
			delete(c.lastID, k)
			delete(c.lastActive, k)
		}
	}
	return nil
}

// RunDiscovery runs the discovery loop until ctx is cancelled.
func (c *Consumer) RunDiscovery(ctx context.Context) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.discover(ctx); err != nil {
				log.Printf("[STREAM] discovery failed: %v", err)
			}
		}
	}
}

func (c *Consumer) streamSet() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.lastID)+1)
	for k, v := range c.lastID {
		out[k] = v
	}
	out[c.thoughtStreamKey()] = "$"
	return out
}

// RunReader blocks on every active stream plus the instance thought
// stream, dispatching each message and pruning the buffer, until ctx is
// cancelled.
func (c *Consumer) RunReader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams := c.streamSet()
		reads, err := c.gw.XReadBlock(ctx, streams, readBlock, readCount)
		if err != nil {
			log.Printf("[STREAM] read failed: %v", err)
			continue
		}

		now := time.Now().UTC()
		for _, r := range reads {
			text, _ := r.Values["text"].(string)
			if text == "" {
				text, _ = r.Values["content"].(string)
			}

			c.mu.Lock()
			c.lastID[r.Stream] = r.ID
			c.lastActive[r.Stream] = now
			c.buffer = append(c.buffer, bufferedMessage{instance: c.instance, text: text, at: now})
			c.pruneLocked(now)
			c.mu.Unlock()

			if c.dispatcher != nil && text != "" {
				c.dispatcher.Dispatch(ctx, c.instance, text, now)
			}
		}
	}
}

// pruneLocked drops messages older than the context window and enforces
// the hard buffer cap. Callers must hold c.mu.
func (c *Consumer) pruneLocked(now time.Time) {
	cutoff := now.Add(-contextWindow)
	kept := c.buffer[:0]
	for _, m := range c.buffer {
		if m.at.After(cutoff) {
			kept = append(kept, m)
		}
	}
	c.buffer = kept
	if len(c.buffer) > bufferCap {
		c.buffer = c.buffer[len(c.buffer)-bufferCap:]
	}
}

// Buffer returns a copy of the current in-memory message buffer.
func (c *Consumer) Buffer() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.buffer))
	for i, m := range c.buffer {
		out[i] = m.text
	}
	return out
}
