package whatsapp

import (
	"sync"
	"time"
)

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// RateLimiter decides whether a sender's message may be processed.
type RateLimiter interface {
	Allow(sender string) bool
}

// SlidingWindow allows at most limit messages per sender in any one
// minute. A non-positive limit allows everything.
type SlidingWindow struct {
	limit int
	now   func() time.Time

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewSlidingWindow creates a per-minute limiter.
func NewSlidingWindow(limit int) *SlidingWindow {
	return &SlidingWindow{
		limit:       limit,
		now:         time.Now,
		senderTimes: make(map[string][]time.Time),
	}
}

// Allow reports whether sender is within the limit and, if so, counts
// the message against it.
func (w *SlidingWindow) Allow(sender string) bool {
	if w.limit <= 0 {
		return true
	}

	now := w.now()
	cutoff := now.Add(-rateWindow)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.maybeCleanupLocked(now)

	timestamps := w.senderTimes[sender]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= w.limit {
		w.senderTimes[sender] = valid
		return false
	}

	w.senderTimes[sender] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// w.mu held.
func (w *SlidingWindow) maybeCleanupLocked(now time.Time) {
	if now.Sub(w.lastCleanup) < cleanupInterval {
		return
	}
	w.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range w.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(w.senderTimes, sender)
		}
	}
}

// senders returns the number of tracked senders.
func (w *SlidingWindow) senders() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.senderTimes)
}

// KeyedMutex serializes work per key. Entries are dropped once no
// goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	holders int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.holders++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
