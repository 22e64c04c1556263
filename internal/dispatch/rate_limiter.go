package dispatch

import (
	"sync"
	"time"
)

// Default frame budget per session
const (
	DefaultFrameLimit  = 30
	DefaultFrameWindow = time.Second
)

// FrameLimiter bounds the frames one session may push per window
// ARCHITECTURAL DISCOVERY: Per-session state tracking with explicit Forget on
// close prevents the map from outliving its sessions
type FrameLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*frameBudget
}

// frameBudget tracks the current window of a single session
type frameBudget struct {
	count       int
	windowStart time.Time
}

// NewFrameLimiter creates a limiter; non-positive values select the defaults
func NewFrameLimiter(limit int, window time.Duration) *FrameLimiter {
	if limit <= 0 {
		limit = DefaultFrameLimit
	}
	if window <= 0 {
		window = DefaultFrameWindow
	}
	return &FrameLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*frameBudget),
	}
}

// Allow reports whether the session may push another frame
func (fl *FrameLimiter) Allow(sessionID string) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := time.Now()

	budget, exists := fl.clients[sessionID]
	if !exists {
		fl.clients[sessionID] = &frameBudget{count: 1, windowStart: now}
		return true
	}

	// FUNCTIONAL DISCOVERY: Fixed window resets exactly once per window
	if now.Sub(budget.windowStart) >= fl.window {
		budget.count = 1
		budget.windowStart = now
		return true
	}

	if budget.count >= fl.limit {
		return false
	}

	budget.count++
	return true
}

// Forget drops the state of a closed session
func (fl *FrameLimiter) Forget(sessionID string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	delete(fl.clients, sessionID)
}

// Cleanup removes entries idle for five windows (call periodically)
func (fl *FrameLimiter) Cleanup() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := time.Now()
	for id, budget := range fl.clients {
		if now.Sub(budget.windowStart) > 5*fl.window {
			delete(fl.clients, id)
		}
	}
}
