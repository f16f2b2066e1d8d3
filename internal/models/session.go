package models

import (
	"sync"
	"time"
)

// Stopwatch measures one leg of connect latency for reporting. It has no
// bearing on timeouts; nothing in the core forces an attempt to fail.
type Stopwatch struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
	running bool
}

// NewStopwatch returns a started stopwatch.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now(), running: true}
}

// Stop freezes the stopwatch. Stopping twice keeps the first reading.
func (s *Stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.elapsed = time.Since(s.start)
		s.running = false
	}
}

// Elapsed returns the frozen duration, or the running total.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return time.Since(s.start)
	}
	return s.elapsed
}

// ServerInfo carries provider-reported facts about a connected server.
type ServerInfo struct {
	ServerVersion string
	ServerEdition string
	IsCloud       bool
}

// ConnectionResult is the outcome of one connect attempt, delivered exactly
// once on the attempt's result channel.
type ConnectionResult struct {
	Connected    bool
	ConnectionID string
	ErrorMessage string
	ErrorCode    int
}

// ConnectionCompleteSummary is the provider's completion notification for
// one connect attempt, keyed by owner URI. An empty ConnectionID means the
// attempt failed.
type ConnectionCompleteSummary struct {
	OwnerURI     string
	ConnectionID string
	ErrorMessage string
	ErrorCode    int
	ServerInfo   *ServerInfo
}

// SessionInfo is the live record of one connect attempt or established
// session. Connecting and a non-empty ConnectionID are mutually exclusive
// over time: a session transitions connecting -> connected(id) or is
// removed on failure.
type SessionInfo struct {
	Profile      *ConnectionProfile // defensive copy, owned by the session
	ConnectionID string
	Connecting   bool
	ServerInfo   *ServerInfo

	// Latency stopwatches: overall service handling, the transport round
	// trip, and the provider's secondary cache fill.
	ServiceTimer   *Stopwatch
	TransportTimer *Stopwatch
	CacheTimer     *Stopwatch

	// Result delivers the attempt outcome exactly once. Each attempt owns
	// its own channel; a second attempt on the same URI gets a new one.
	Result chan ConnectionResult
}

// NewSessionInfo starts a session record for a fresh connect attempt.
func NewSessionInfo(profile *ConnectionProfile) *SessionInfo {
	return &SessionInfo{
		Profile:        profile.Clone(),
		Connecting:     true,
		ServiceTimer:   NewStopwatch(),
		TransportTimer: NewStopwatch(),
		CacheTimer:     NewStopwatch(),
		Result:         make(chan ConnectionResult, 1),
	}
}
