// Package ratelimiter throttles PIN unlock attempts per private key.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the persisted bucket: Tokens available at time At.
type State struct {
	Tokens float64   `json:"tokens"`
	At     time.Time `json:"at"`
}

// Store keeps bucket state between processes. Load reports false when no
// state exists for key.
type Store interface {
	Load(key string) (State, bool, error)
	Save(key string, st State) error
	Clear(key string) error
}

// MapLimiter applies a token bucket per string key and periodically evicts idle entries.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	store   Store
	mu      sync.Mutex
	byKey   map[string]*entry
	hits    uint64
	idleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a key-based limiter allowing perMinute attempts with the given
// burst. It returns nil (an unlimited limiter) if either value is not positive.
func New(perMinute float64, burst int, idleTTL time.Duration) *MapLimiter {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		byKey:   make(map[string]*entry),
		idleTTL: idleTTL,
	}
}

// WithStore makes the limiter reload and persist bucket state through s on
// every Take, so separate processes share one budget per key.
func (l *MapLimiter) WithStore(s Store) *MapLimiter {
	if l != nil {
		l.store = s
	}
	return l
}

// Take spends one attempt for key at now. A positive delay means the bucket
// is empty and nothing was spent; the caller may retry after it. Store
// failures are returned alongside the decision, which then rests on the
// in-process bucket alone.
func (l *MapLimiter) Take(key string, now time.Time) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryFor(key, now)
	var storeErr error
	if l.store != nil {
		st, ok, err := l.store.Load(key)
		switch {
		case err != nil:
			storeErr = err
		case ok:
			e.limiter = l.seeded(st)
		default:
			e.limiter = rate.NewLimiter(l.limit, l.burst)
		}
	}

	tokens := e.limiter.TokensAt(now)
	if tokens < 1 {
		wait := (1 - tokens) / float64(l.limit)
		return time.Duration(wait * float64(time.Second)).Round(time.Millisecond), storeErr
	}
	e.limiter.AllowN(now, 1)

	if l.store != nil && storeErr == nil {
		storeErr = l.store.Save(key, State{Tokens: e.limiter.TokensAt(now), At: now})
	}
	return 0, storeErr
}

// Reset forgets every attempt recorded for key.
func (l *MapLimiter) Reset(key string) error {
	if l == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	return l.store.Clear(key)
}

// seeded rebuilds a limiter holding st.Tokens at st.At: the bucket is drained
// at the instant it would have been empty and refills from there.
func (l *MapLimiter) seeded(st State) *rate.Limiter {
	lim := rate.NewLimiter(l.limit, l.burst)
	tokens := st.Tokens
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}
	if tokens < 0 {
		tokens = 0
	}
	emptyAt := st.At.Add(-time.Duration(tokens / float64(l.limit) * float64(time.Second)))
	lim.ReserveN(emptyAt, l.burst)
	return lim
}

func (l *MapLimiter) entryFor(key string, now time.Time) *entry {
	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now

	l.hits++
	if l.hits%128 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if k != key && v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return e
}
