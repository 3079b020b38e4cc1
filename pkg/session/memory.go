package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// sweepInterval is how often the in-memory store removes expired sessions.
const sweepInterval = time.Minute

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with a mutex-guarded map. It is the fallback
// for deployments without Redis; sessions do not survive a restart.
type MemoryStore struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session

	// Cleanup goroutine control.
	started   bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(log logrus.FieldLogger) *MemoryStore {
	return &MemoryStore{
		log:       log.WithField("component", "session_memory_store"),
		sessions:  make(map[string]*Session, 100),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start begins the expiry sweep goroutine.
func (m *MemoryStore) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()

		return errors.New("memory session store already started")
	}

	m.started = true
	m.mu.Unlock()

	go m.sweepLoop(ctx)

	m.log.Info("Memory session store started")

	return nil
}

// Stop stops the expiry sweep goroutine. Safe to call without Start.
func (m *MemoryStore) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()

		return nil
	}

	m.started = false
	m.mu.Unlock()

	close(m.stopSweep)
	<-m.sweepDone

	m.log.Info("Memory session store stopped")

	return nil
}

// Create stores a session under its state token.
func (m *MemoryStore) Create(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.State] = sess

	return nil
}

// Consume retrieves and deletes the session for state. The mutex makes the
// get+delete atomic across concurrent callback invocations; expired entries
// that the sweep has not reached yet are rejected on access.
func (m *MemoryStore) Consume(_ context.Context, state string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[state]
	if !ok {
		return nil, ErrSessionNotFound
	}

	delete(m.sessions, state)

	if sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// sweepLoop runs periodic cleanup of expired sessions.
func (m *MemoryStore) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes sessions past their TTL.
func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expired := 0

	for state, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, state)

			expired++
		}
	}

	if expired > 0 {
		m.log.WithField("expired", expired).Debug("Swept expired sessions")
	}
}
