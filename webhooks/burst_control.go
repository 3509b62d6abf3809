package webhooks

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-esim/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"

	DefaultBurstWindow     = 2 * time.Second
	DefaultBurstMaxEntries = 4096
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController collapses distinct deliveries that carry the same payment
// transition for one order, such as charge:confirmed followed closely by
// charge:resolved.
// Forget drops the transition so a retry of a failed delivery is not
// coalesced against itself.
type BurstController interface {
	Allow(ctx context.Context, event core.VerifiedEvent) (BurstDecision, error)
	Forget(ctx context.Context, event core.VerifiedEvent)
}

type BurstKeyExtractor func(event core.VerifiedEvent) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

// DefaultBurstController remembers when each transition key was last seen.
// Keys are kept in arrival order so expired or excess entries are dropped
// from the front.
type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu    sync.Mutex
	order *list.List
	seen  map[string]*list.Element
}

type burstEntry struct {
	key    string
	seenAt time.Time
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	c := &DefaultBurstController{
		mode:       BurstModeNone,
		window:     opts.Window,
		maxEntries: opts.MaxEntries,
		extractKey: opts.ExtractKey,
		now:        opts.Now,
		order:      list.New(),
		seen:       map[string]*list.Element{},
	}
	if strings.EqualFold(strings.TrimSpace(string(opts.Mode)), string(BurstModeCoalesce)) {
		c.mode = BurstModeCoalesce
	}
	if c.window <= 0 {
		c.window = DefaultBurstWindow
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultBurstMaxEntries
	}
	if c.extractKey == nil {
		c.extractKey = OrderTransitionKey
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *DefaultBurstController) Allow(_ context.Context, event core.VerifiedEvent) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := c.extractKey(event)
	if key = strings.TrimSpace(key); !ok || key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expire(now)
	last, repeated := c.touch(key, now)
	if !repeated || now.Sub(last) >= c.window {
		return BurstDecision{Allow: true}, nil
	}
	return BurstDecision{Metadata: map[string]any{
		"burst_mode":      string(c.mode),
		"burst_key":       key,
		"burst_window_ms": c.window.Milliseconds(),
		"coalesced":       true,
	}}, nil
}

func (c *DefaultBurstController) Forget(_ context.Context, event core.VerifiedEvent) {
	if c == nil || c.mode == BurstModeNone {
		return
	}
	key, ok := c.extractKey(event)
	if key = strings.TrimSpace(key); !ok || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, found := c.seen[key]; found {
		c.order.Remove(elem)
		delete(c.seen, key)
	}
}

// touch records key as seen at now and returns the previous sighting.
func (c *DefaultBurstController) touch(key string, now time.Time) (time.Time, bool) {
	if elem, ok := c.seen[key]; ok {
		entry := elem.Value.(*burstEntry)
		last := entry.seenAt
		entry.seenAt = now
		c.order.MoveToBack(elem)
		return last, true
	}
	c.seen[key] = c.order.PushBack(&burstEntry{key: key, seenAt: now})
	return time.Time{}, false
}

func (c *DefaultBurstController) expire(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		entry := front.Value.(*burstEntry)
		if now.Sub(entry.seenAt) < c.window && c.order.Len() < c.maxEntries {
			return
		}
		c.order.Remove(front)
		delete(c.seen, entry.key)
	}
}

// OrderTransitionKey keys bursts by processor, order and payment outcome.
func OrderTransitionKey(event core.VerifiedEvent) (string, bool) {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" || event.Outcome == core.PaymentOutcomeIgnored {
		return "", false
	}
	return strings.Join([]string{string(event.Processor), orderID, string(event.Outcome)}, ":"), true
}

var _ BurstController = (*DefaultBurstController)(nil)
