package session

import (
	"sync"
	"time"
)

// State is one variant of a user's interaction state. Each variant carries
// exactly the data that state needs, so handlers never fish values out of an
// untyped context map.
type State interface {
	sessionState()
}

// Idle means no multi-step flow is in progress.
type Idle struct{}

// WaitingCustomInstructions means the user was asked for the analysis
// instructions to attach to their next recording.
type WaitingCustomInstructions struct {
	PromptID string
}

// WaitingYouTubeConfirmation means the user sent a YouTube link and was shown
// the video metadata, and the service is waiting for a go-ahead.
type WaitingYouTubeConfirmation struct {
	VideoRef string
	Title    string
	Duration time.Duration
}

func (Idle) sessionState()                       {}
func (WaitingCustomInstructions) sessionState()  {}
func (WaitingYouTubeConfirmation) sessionState() {}

type entry struct {
	state     State
	expiresAt time.Time
}

// Manager tracks per-user session state in memory. Sessions are ephemeral by
// design; a restart simply drops everyone back to idle.
type Manager struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewManager creates a Manager with the given session lifetime.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the user's current state. Expired or missing sessions come back
// as Idle.
func (m *Manager) Get(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok || m.now().After(e.expiresAt) {
		delete(m.entries, userID)
		return Idle{}
	}
	return e.state
}

// Set records the user's state and extends the session lifetime.
func (m *Manager) Set(userID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := state.(Idle); ok {
		delete(m.entries, userID)
		return
	}
	m.entries[userID] = entry{state: state, expiresAt: m.now().Add(m.ttl)}
}

// Clear resets the user to idle.
func (m *Manager) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
}
