package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

// failureTracker counts failed logins per client IP. After captchaAfter
// failures inside the window the IP must solve a captcha; after maxAttempts
// it is blocked for blockDuration.
type failureTracker struct {
	sync.Mutex
	attempts map[string]*attemptData
	blocked  map[string]time.Time
	now      func() time.Time
}

const (
	captchaAfter   = 3
	maxAttempts    = 20
	blockDuration  = 15 * time.Minute
	windowDuration = 15 * time.Minute
	maxTracked     = 10000
)

func newFailureTracker() *failureTracker {
	return &failureTracker{
		attempts: make(map[string]*attemptData),
		blocked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow returns false if the IP is currently blocked.
// It also cleans up expired blocks.
func (t *failureTracker) Allow(ip string) bool {
	t.Lock()
	defer t.Unlock()

	if unblockTime, ok := t.blocked[ip]; ok {
		if t.now().Before(unblockTime) {
			return false
		}
		delete(t.blocked, ip)
		delete(t.attempts, ip)
	}
	return true
}

// NeedsCaptcha reports whether the next login from ip must carry a
// captcha solution.
func (t *failureTracker) NeedsCaptcha(ip string) bool {
	t.Lock()
	defer t.Unlock()
	data, ok := t.attempts[ip]
	if !ok || t.now().Sub(data.firstAttempt) > windowDuration {
		return false
	}
	return data.count >= captchaAfter
}

// RecordFailure increments the failure count and blocks if threshold reached.
func (t *failureTracker) RecordFailure(ip string) {
	t.Lock()
	defer t.Unlock()

	now := t.now()
	if len(t.attempts) > maxTracked {
		t.prune(now)
	}

	data, exists := t.attempts[ip]
	if !exists || now.Sub(data.firstAttempt) > windowDuration {
		t.attempts[ip] = &attemptData{count: 1, firstAttempt: now}
		return
	}
	data.count++
	if data.count >= maxAttempts {
		t.blocked[ip] = now.Add(blockDuration)
	}
}

// prune drops counters whose window has passed. Caller holds the lock.
func (t *failureTracker) prune(now time.Time) {
	for ip, data := range t.attempts {
		if now.Sub(data.firstAttempt) > windowDuration {
			delete(t.attempts, ip)
		}
	}
}

// Reset clears the counter for an IP (used on successful login).
func (t *failureTracker) Reset(ip string) {
	t.Lock()
	defer t.Unlock()
	delete(t.attempts, ip)
	delete(t.blocked, ip)
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
