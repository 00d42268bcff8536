// Package capture owns the per-device frame producer. One Capture wraps one
// camera device: a single goroutine pulls frames from the driver and stores
// only the newest one, so slow readers never build a queue.
package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
)

// PixelFormat is the negotiated camera output format.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatMJPEG
	FormatYUYV
	FormatNV12
)

func (f PixelFormat) String() string {
	switch f {
	case FormatMJPEG:
		return "MJPEG"
	case FormatYUYV:
		return "YUYV"
	case FormatNV12:
		return "NV12"
	default:
		return "UNKNOWN"
	}
}

// Params is the capture request. Start returns the params the device actually
// granted, which may differ from the request.
type Params struct {
	Device string
	Width  int
	Height int
	FPS    int
	Format PixelFormat
}

// Frame is one captured image. Seq increases by one per stored frame so
// readers can tell a fresh frame from the one they already consumed.
type Frame struct {
	Data []byte
	Seq  uint64
}

// Driver abstracts the camera so the engine can run against a fake in tests.
type Driver interface {
	// Open negotiates the format and starts the device. It returns the
	// granted parameters.
	Open(p Params) (Params, error)
	// ReadFrame blocks until the next frame arrives.
	ReadFrame() ([]byte, error)
	Close() error
}

var ErrNotRunning = errors.New("capture is not running")

// Capture runs the producer goroutine and the single-slot frame buffer.
type Capture struct {
	driver Driver

	mu      sync.Mutex
	params  Params
	running bool
	stop    chan struct{}
	done    chan struct{}

	frameMu sync.Mutex
	latest  Frame
}

func New(driver Driver) *Capture {
	return &Capture{driver: driver}
}

// Start opens the device and launches the producer. Calling Start on a
// running capture is a no-op, so concurrent first clients of one device can
// all call it and exactly one opens the camera.
func (c *Capture) Start(p Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	granted, err := c.driver.Open(p)
	if err != nil {
		return err
	}
	c.params = granted
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	logger.InfoF("capture started on %s: %dx%d@%d %s",
		granted.Device, granted.Width, granted.Height, granted.FPS, granted.Format)
	go c.produce(c.stop, c.done)
	return nil
}

// Stop halts the producer and closes the device. Safe to call twice.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done
	if err := c.driver.Close(); err != nil {
		logger.WarnF("closing capture device: %v", err)
	}
	logger.Info("capture stopped")
}

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Params returns the granted parameters. Valid after a successful Start.
func (c *Capture) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Latest returns a copy of the newest frame. The bool is false until the
// first frame arrives.
func (c *Capture) Latest() (Frame, bool) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.latest.Seq == 0 {
		return Frame{}, false
	}
	out := Frame{Data: append([]byte(nil), c.latest.Data...), Seq: c.latest.Seq}
	return out, true
}

// WaitFrame blocks until a frame newer than afterSeq is stored, polling at a
// quarter of the frame interval. It returns ErrNotRunning once the producer
// exits so readers do not spin on a dead capture.
func (c *Capture) WaitFrame(afterSeq uint64, timeout time.Duration) (Frame, error) {
	interval := c.pollInterval()
	deadline := time.Now().Add(timeout)
	for {
		if f, ok := c.Latest(); ok && f.Seq > afterSeq {
			return f, nil
		}
		if !c.Running() {
			return Frame{}, ErrNotRunning
		}
		if time.Now().After(deadline) {
			return Frame{}, errors.New("timed out waiting for frame")
		}
		time.Sleep(interval)
	}
}

func (c *Capture) pollInterval() time.Duration {
	c.mu.Lock()
	fps := c.params.FPS
	c.mu.Unlock()
	if fps <= 0 {
		fps = 15
	}
	return time.Second / time.Duration(fps) / 4
}

func (c *Capture) produce(stop, done chan struct{}) {
	defer close(done)
	errStreak := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		data, err := c.driver.ReadFrame()
		if err != nil {
			errStreak++
			if errStreak >= 100 {
				logger.ErrorF("capture giving up after %d consecutive read errors: %v", errStreak, err)
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				if cerr := c.driver.Close(); cerr != nil {
					logger.WarnF("closing capture device: %v", cerr)
				}
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		errStreak = 0
		if len(data) == 0 {
			continue
		}

		c.frameMu.Lock()
		// Reuse the previous buffer when it fits, the producer is the only
		// writer.
		if cap(c.latest.Data) >= len(data) {
			c.latest.Data = c.latest.Data[:len(data)]
		} else {
			c.latest.Data = make([]byte, len(data))
		}
		copy(c.latest.Data, data)
		c.latest.Seq++
		c.frameMu.Unlock()
	}
}
