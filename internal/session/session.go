// Package session tracks the shared capture state per camera device. All
// clients of one device attach to the same Session; the first client locks
// the stream parameters and the last one leaving lets the idle reaper
// reclaim the camera.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
)

// ErrParamConflict is returned when a joining client asks for a codec other
// than the one the first client locked.
var ErrParamConflict = errors.New("stream parameters conflict with the active session")

// Params are the stream parameters locked by the first client of a device.
type Params struct {
	Codec       string
	Container   string
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	Quality     int
	GOP         int
	Latency     string
}

// Session is the shared state of one device. Counters are atomics so the
// stats endpoint never blocks a streaming goroutine.
type Session struct {
	DeviceID   string
	DevicePath string
	Capture    *capture.Capture

	mu     sync.Mutex
	locked bool
	params Params
	sps    []byte
	pps    []byte

	clients    atomic.Int64
	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
	idrSeq     atomic.Uint64
	lastAccess atomic.Int64
	started    atomic.Int64
}

func newSession(deviceID, devicePath string, cap *capture.Capture) *Session {
	s := &Session{
		DeviceID:   deviceID,
		DevicePath: devicePath,
		Capture:    cap,
	}
	s.started.Store(time.Now().UnixNano())
	s.Touch()
	return s
}

// StartedAt is the time of the last successful capture (re)start, or the
// session's creation before the first start.
func (s *Session) StartedAt() time.Time {
	return time.Unix(0, s.started.Load())
}

// ResetStats zeroes the throughput counters and restarts the uptime clock.
// Called after every successful cold start so observed rates describe the
// current capture run only.
func (s *Session) ResetStats() {
	s.started.Store(time.Now().UnixNano())
	s.framesSent.Store(0)
	s.bytesSent.Store(0)
}

// Acquire registers one more client and returns the new count.
func (s *Session) Acquire() int64 {
	s.Touch()
	return s.clients.Add(1)
}

// Release drops one client. The session itself stays until the reaper
// collects it, so a quick reconnect reuses the running capture.
func (s *Session) Release() int64 {
	s.Touch()
	n := s.clients.Add(-1)
	if n < 0 {
		s.clients.Store(0)
		n = 0
	}
	return n
}

func (s *Session) Clients() int64 {
	return s.clients.Load()
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// LockOrCheck installs the parameters on first call and validates later
// clients against them. A codec mismatch is a conflict; the other fields are
// adopted from the lock so every client streams what the camera delivers.
func (s *Session) LockOrCheck(p Params) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		s.locked = true
		s.params = p
		return p, nil
	}
	if p.Codec != s.params.Codec {
		return s.params, ErrParamConflict
	}
	return s.params, nil
}

// LockedParams returns the current lock. The bool is false before the first
// client locked anything.
func (s *Session) LockedParams() (Params, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, s.locked
}

// SetParameterSets stores SPS and PPS once. Later calls are ignored, the
// first encoder to produce them wins and all clients share one set.
func (s *Session) SetParameterSets(sps, pps []byte) {
	if len(sps) == 0 || len(pps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sps != nil {
		return
	}
	s.sps = append([]byte(nil), sps...)
	s.pps = append([]byte(nil), pps...)
}

// ParameterSets returns the stored SPS and PPS, nil before the first IDR.
func (s *Session) ParameterSets() (sps, pps []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sps, s.pps
}

// RequestIDR asks every encoder on this session to emit a keyframe soon.
// Responders watch the sequence number and call ForceIDR when it moves.
func (s *Session) RequestIDR() {
	s.idrSeq.Add(1)
}

func (s *Session) IDRSeq() uint64 {
	return s.idrSeq.Load()
}

// CountFrame records one delivered frame for the stats endpoint.
func (s *Session) CountFrame(bytes int) {
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(bytes))
	s.Touch()
}

// Stats is the JSON snapshot of one session.
type Stats struct {
	DeviceID   string `json:"device"`
	DevicePath string `json:"device_path"`
	Codec      string `json:"codec"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
	Clients    int64  `json:"active_clients"`
	FramesSent uint64 `json:"frames_sent"`
	BytesSent  uint64 `json:"bytes_sent"`
	UptimeSec  int64  `json:"uptime_sec"`
	Capturing  bool   `json:"capturing"`
}

func (s *Session) Snapshot() Stats {
	p, _ := s.LockedParams()
	return Stats{
		DeviceID:   s.DeviceID,
		DevicePath: s.DevicePath,
		Codec:      p.Codec,
		Width:      p.Width,
		Height:     p.Height,
		FPS:        p.FPS,
		Clients:    s.clients.Load(),
		FramesSent: s.framesSent.Load(),
		BytesSent:  s.bytesSent.Load(),
		UptimeSec:  int64(time.Since(s.StartedAt()).Seconds()),
		Capturing:  s.Capture.Running(),
	}
}
