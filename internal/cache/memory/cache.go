// Package memory provides in-process stand-ins for the Redis-backed cache,
// lock manager, event bus and rate limiter. They keep the same semantics
// within a single process.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// MarketCache implements domain.MarketCache without expiry.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[string]domain.Market)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	c.markets[m.ID] = m
	c.mu.Unlock()
	return nil
}

func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.markets, id)
	c.mu.Unlock()
	return nil
}

// LockManager implements domain.LockManager with expiring in-process locks.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

// SignalBus implements domain.SignalBus. Subscribers whose buffer is full
// miss messages, as with Redis pub/sub.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[int]subscriber
	nextSub int
	streams map[string][]domain.StreamMessage
	maxLen  int
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

const subscribeBuffer = 128

// NewSignalBus creates a bus that keeps at most maxLen entries per stream;
// zero keeps everything.
func NewSignalBus(maxLen int) *SignalBus {
	return &SignalBus{
		subs:    make(map[int]subscriber),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe accepts the same glob patterns as Redis PSUBSCRIBE for the
// common cases ("*", "?", "[...]").
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}
	ch := make(chan []byte, subscribeBuffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.streams[stream]
	id := strconv.Itoa(len(entries)+1) + "-0"
	if n := len(entries); n > 0 {
		id = nextStreamID(entries[n-1].ID)
	}
	entries = append(entries, domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	if b.maxLen > 0 && len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID. IDs are "<seq>-0"
// with seq increasing from 1, so "0" reads from the start.
func (b *SignalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.Atoi(id)
	return n
}

func nextStreamID(last string) string {
	return strconv.Itoa(streamSeq(last)+1) + "-0"
}

// RateLimiter implements domain.RateLimiter with a sliding window per key.
type RateLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	clock func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), clock: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

var (
	_ domain.MarketCache = (*MarketCache)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
)
