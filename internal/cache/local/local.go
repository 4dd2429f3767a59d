// Package local provides single-process stand-ins for the Redis-backed
// lock manager, rate limiter and signal bus. They are used when Redis is
// disabled and in tests.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// LockManager implements domain.LockManager within one process.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
	token uint64
	owner map[string]uint64
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]time.Time),
		owner: make(map[string]uint64),
		now:   time.Now,
	}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("local: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	l.token++
	token := l.token
	l.held[key] = now.Add(ttl)
	l.owner[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.owner[key] == token {
				delete(l.held, key)
				delete(l.owner, key)
			}
		})
	}, nil
}

// RateLimiter implements domain.RateLimiter as an in-memory sliding window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
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

// Bus implements domain.SignalBus with in-process fan-out. Slow subscribers
// drop messages rather than block publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	stream map[string][]domain.StreamMessage
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string][]chan []byte),
		stream: make(map[string][]domain.StreamMessage),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, subs := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe supports exact channels and a trailing "*" wildcard.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%d-0", len(b.stream[stream])+1)
	b.stream[stream] = append(b.stream[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead treats lastID as the count of entries already read.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var seen int
	if lastID != "" && lastID != "0" && lastID != "0-0" {
		if _, err := fmt.Sscanf(lastID, "%d-0", &seen); err != nil {
			return nil, fmt.Errorf("local: stream read %s: bad id %q", stream, lastID)
		}
	}
	entries := b.stream[stream]
	if seen >= len(entries) {
		return nil, nil
	}
	entries = entries[seen:]
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return append([]domain.StreamMessage(nil), entries...), nil
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.SignalBus   = (*Bus)(nil)
)
