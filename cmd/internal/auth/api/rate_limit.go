package api

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// loginThrottle tracks failed login attempts per client IP in memory.
// State is process-local; a restart forgets prior failures.
type loginThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time

	max    int
	window time.Duration
}

func newLoginThrottle(max int, window time.Duration) *loginThrottle {
	return &loginThrottle{
		failures: make(map[string][]time.Time),
		max:      max,
		window:   window,
	}
}

// RecordFailure notes one failed attempt for key.
func (t *loginThrottle) RecordFailure(key string, now time.Time) {
	if t == nil || key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = append(t.failures[key], now)
}

// Blocked reports whether key is throttled at now, and for how long.
// Expired failures are pruned as a side effect.
func (t *loginThrottle) Blocked(key string, now time.Time) (bool, time.Duration) {
	if t == nil || key == "" || t.max <= 0 {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := pruneBefore(t.failures[key], now.Add(-t.window))
	if len(kept) == 0 {
		delete(t.failures, key)
		return false, 0
	}
	t.failures[key] = kept

	return evaluateWindowThrottle(now, kept, t.max, t.window)
}

func pruneBefore(stamps []time.Time, cut time.Time) []time.Time {
	kept := stamps[:0]
	for _, s := range stamps {
		if s.After(cut) {
			kept = append(kept, s)
		}
	}
	return kept
}

// evaluateWindowThrottle blocks when at least max failures fall inside the
// window, and reports how long until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}

	cut := now.Add(-window)
	inWindow := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) {
			inWindow = append(inWindow, f)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}

	// Newest first; the max-th newest failure leaving the window unblocks.
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].After(inWindow[j]) })
	release := inWindow[max-1].Add(window)
	retry := release.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return true, retry
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
