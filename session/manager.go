package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"telnetd/telnet"
)

// trackedSession is a Session plus the bookkeeping the Manager needs to
// decide when it has gone idle.
type trackedSession struct {
	session     *Session
	connectedAt time.Time
	lastActive  time.Time
}

// Manager tracks every live Session a listener has accepted, tagging each
// with a stable identifier, and periodically sweeps for sessions that have
// been idle past a configurable threshold. Grounded in the teacher's
// ConnectionManager, stripped down to pure connection lifecycle.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*trackedSession
	cron     *cron.Cron
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*trackedSession),
	}
}

// Accept builds a State and Session for a freshly accepted connection,
// registers it under a fresh ID, and returns both.
func (m *Manager) Accept(conn net.Conn, cfg telnet.StateConfig) (*Session, uuid.UUID, error) {
	s, err := New(telnet.New(cfg), conn)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("manager: accept: %w", err)
	}

	id := uuid.New()
	now := time.Now()

	m.mu.Lock()
	m.sessions[id] = &trackedSession{session: s, connectedAt: now, lastActive: now}
	m.mu.Unlock()

	return s, id, nil
}

// Touch records that a session produced or consumed a line, resetting its
// idle clock.
func (m *Manager) Touch(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.sessions[id]; ok {
		ts.lastActive = time.Now()
	}
}

// Remove unregisters and closes a session. Safe to call more than once or
// for an unknown ID.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	ts, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		ts.session.Close()
	}
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweep installs a cron job that closes and unregisters any session
// whose last activity is older than idleTimeout. schedule is a standard
// five-field cron expression; an empty schedule defaults to once a minute.
// Mirrors the teacher's own periodic-ticker shape (Server.checkpointLoop),
// generalized from a fixed interval to a cron schedule.
func (m *Manager) StartSweep(schedule string, idleTimeout time.Duration) error {
	if schedule == "" {
		schedule = "@every 1m"
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		m.sweep(idleTimeout)
	})
	if err != nil {
		return fmt.Errorf("manager: start sweep: %w", err)
	}

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	c.Start()
	return nil
}

// StopSweep stops the idle-sweep cron job, if one is running.
func (m *Manager) StopSweep() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
	}
}

func (m *Manager) sweep(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	var expired []uuid.UUID
	m.mu.Lock()
	for id, ts := range m.sessions {
		if ts.lastActive.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Remove(id)
	}
}
