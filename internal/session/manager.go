package session

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
)

// reapInterval is how often idle sessions are swept.
const reapInterval = 10 * time.Second

// DriverFactory builds one capture driver per session. Injected so tests run
// the manager against fake cameras.
type DriverFactory func() capture.Driver

// Manager is the device-id keyed session registry plus the idle reaper.
type Manager struct {
	idleTimeout time.Duration
	newDriver   DriverFactory

	mu       sync.Mutex
	sessions map[string]*Session

	stopReaper chan struct{}
	reaperDone chan struct{}
}

func NewManager(idleTimeout time.Duration, newDriver DriverFactory) *Manager {
	m := &Manager{
		idleTimeout: idleTimeout,
		newDriver:   newDriver,
		sessions:    make(map[string]*Session),
		stopReaper:  make(chan struct{}),
		reaperDone:  make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// DevicePath maps a device id from the URL to a V4L2 node. Bare numbers
// become /dev/videoN, anything else is taken as a path.
func DevicePath(deviceID string) string {
	if deviceID == "" {
		return "/dev/video0"
	}
	numeric := true
	for _, r := range deviceID {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return "/dev/video" + deviceID
	}
	if strings.HasPrefix(deviceID, "/") {
		return deviceID
	}
	return "/dev/" + deviceID
}

// GetOrCreate returns the session for a device, creating it on first use.
// The capture is not started here; the first client starts it after the
// parameter lock settles.
func (m *Manager) GetOrCreate(deviceID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[deviceID]; ok {
		s.Touch()
		return s
	}
	s := newSession(deviceID, DevicePath(deviceID), capture.New(m.newDriver()))
	m.sessions[deviceID] = s
	logger.InfoF("session created for device %s (%s)", deviceID, s.DevicePath)
	return s
}

// Find returns an existing session without creating one.
func (m *Manager) Find(deviceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Snapshots returns the stats of every live session, for /api/stats.
func (m *Manager) Snapshots() []Stats {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// ReleaseIfIdle tears the session down immediately when its last client is
// gone: the capture stops and the registry entry is erased, so the next
// request gets a cold start. Responders call it after Release; the reaper
// stays as the safety net for references nobody gave back. Returns true when
// the session was erased.
func (m *Manager) ReleaseIfIdle(deviceID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if !ok || s.Clients() > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	logger.InfoF("last client left, releasing session for device %s", deviceID)
	s.Capture.Stop()
	return true
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle stops and removes sessions with no clients whose idle time has
// passed the timeout. Capture.Stop runs outside the registry lock, device
// teardown can take a moment.
func (m *Manager) reapIdle() {
	now := time.Now()
	var victims []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Clients() > 0 {
			continue
		}
		if now.Sub(s.LastAccess()) < m.idleTimeout {
			continue
		}
		delete(m.sessions, id)
		victims = append(victims, s)
	}
	m.mu.Unlock()

	for _, s := range victims {
		logger.InfoF("reaping idle session for device %s", s.DeviceID)
		s.Capture.Stop()
	}
}

// Close stops the reaper and every capture. Wired into the shutdown cleaner.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopReaper)
	select {
	case <-m.reaperDone:
	case <-ctx.Done():
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Capture.Stop()
	}
	return nil
}
