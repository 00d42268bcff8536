package server

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/stream"
)

// Error kinds of the JSON error body.
const (
	errBadRequest        = "bad_request"
	errConflict          = "conflict"
	errNotFound          = "not_found"
	errDeviceUnavailable = "device_unavailable"
	errH264Unavailable   = "h264_unavailable"
	errFMP4Unavailable   = "fmp4_unavailable"
	errCapsUnavailable   = "caps_unavailable"
)

func apiError(c *gin.Context, status int, kind, details string) {
	c.JSON(status, gin.H{"error": kind, "details": details})
}

// ensureCapture starts the device on the first client. The capture format
// follows the locked codec: MJPEG streams want the camera's JPEG output,
// H.264 wants a raw format for the encoder.
func (s *Server) ensureCapture(sess *session.Session, p session.Params) error {
	if sess.Capture.Running() {
		return nil
	}
	format := capture.FormatYUYV
	if p.Codec == stream.CodecMJPEG {
		format = capture.FormatMJPEG
	}
	err := sess.Capture.Start(capture.Params{
		Device: sess.DevicePath,
		Width:  p.Width,
		Height: p.Height,
		FPS:    p.FPS,
		Format: format,
	})
	if err != nil {
		return err
	}
	// Counters from an earlier capture run would skew the observed rates.
	sess.ResetStats()
	return nil
}

// detach gives back one session reference and tears the session down right
// away when it was the last one. The reaper only covers references nobody
// returned.
func (s *Server) detach(sess *session.Session) {
	sess.Release()
	s.manager.ReleaseIfIdle(sess.DeviceID)
}

// attach runs the shared front half of every stream request: parameter
// parsing, session attach, the first-comer lock and the capture start. On
// success the caller owns one session reference and must release it.
func (s *Server) attach(c *gin.Context) (*session.Session, session.Params, bool) {
	p, err := stream.ParseLive(c.Request.URL.Query(), s.cfg.DefaultCodec)
	if err != nil {
		apiError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return nil, session.Params{}, false
	}

	sess := s.manager.GetOrCreate(c.Param("id"))
	sess.Acquire()

	locked, err := sess.LockOrCheck(p)
	c.Header("Effective-Params", stream.EffectiveParams(locked))
	if err != nil {
		s.detach(sess)
		apiError(c, http.StatusConflict, errConflict, "params locked by first requester")
		return nil, session.Params{}, false
	}

	if err := s.ensureCapture(sess, locked); err != nil {
		s.detach(sess)
		logger.WarnF("capture start failed for %s: %v", sess.DeviceID, err)
		apiError(c, http.StatusServiceUnavailable, errDeviceUnavailable, err.Error())
		return nil, session.Params{}, false
	}

	// Re-announce with the geometry the camera actually granted.
	granted := sess.Capture.Params()
	locked.Width = granted.Width
	locked.Height = granted.Height
	if granted.FPS > 0 {
		locked.FPS = granted.FPS
	}
	c.Header("Effective-Params", stream.EffectiveParams(locked))
	return sess, locked, true
}

func (s *Server) handleLive(c *gin.Context) {
	sess, p, ok := s.attach(c)
	if !ok {
		return
	}
	defer s.detach(sess)

	sink := &stream.HTTPSink{W: c.Writer, F: c.Writer, Ctx: c.Request.Context()}

	switch {
	case p.Codec == stream.CodecMJPEG:
		if sess.Capture.Params().Format != capture.FormatMJPEG {
			apiError(c, http.StatusServiceUnavailable, errDeviceUnavailable, "camera offers no MJPEG output")
			return
		}
		c.Header("Content-Type", stream.MJPEGContentType)
		c.Status(http.StatusOK)
		stream.ServeMJPEG(sess, p, sink)

	case p.Container == stream.ContainerMP4:
		r, err := stream.BootstrapFMP4(sess, p, s.factory)
		if err != nil {
			kind := errFMP4Unavailable
			if errors.Is(err, encoder.ErrUnavailable) {
				kind = errH264Unavailable
			}
			apiError(c, http.StatusServiceUnavailable, kind, err.Error())
			return
		}
		c.Header("Content-Type", stream.FMP4ContentType)
		c.Header("Cache-Control", "no-store")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Status(http.StatusOK)
		r.Stream(sink)

	default:
		r, err := stream.NewRawH264(sess, p, s.factory)
		if err != nil {
			apiError(c, http.StatusServiceUnavailable, errH264Unavailable, err.Error())
			return
		}
		c.Header("Content-Type", stream.RawH264ContentType)
		c.Status(http.StatusOK)
		r.Stream(sink)
	}
}

func (s *Server) handleUDP(c *gin.Context) {
	udpReq, err := stream.ParseUDP(c.Request.URL.Query())
	if err != nil {
		apiError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}

	sess, p, ok := s.attach(c)
	if !ok {
		return
	}

	cfg := stream.UDPConfig{
		Target:   udpReq.Target,
		Port:     udpReq.Port,
		Duration: time.Duration(udpReq.Duration) * time.Second,
		MTU:      s.cfg.UDPMaxMTU,
	}
	// The sender goroutine owns the session reference from here on and
	// gives it back on every exit path.
	go stream.RunUDP(sess, p, cfg, s.factory, func() { s.detach(sess) })

	c.JSON(http.StatusOK, gin.H{"status": "udp_stream_started"})
}

func (s *Server) handleStats(c *gin.Context) {
	sess, ok := s.manager.Find(c.Param("id"))
	if !ok {
		apiError(c, http.StatusNotFound, errNotFound, "no active session for device")
		return
	}

	snap := sess.Snapshot()
	p, _ := sess.LockedParams()
	uptime := time.Since(sess.StartedAt()).Seconds()
	if uptime < 0.001 {
		uptime = 0.001
	}

	c.JSON(http.StatusOK, gin.H{
		"device":           snap.DeviceID,
		"device_path":      snap.DevicePath,
		"codec":            p.Codec,
		"container":        p.Container,
		"width":            snap.Width,
		"height":           snap.Height,
		"fps":              snap.FPS,
		"bitrate_kbps":     p.BitrateKbps,
		"quality":          p.Quality,
		"gop":              p.GOP,
		"latency":          p.Latency,
		"pixel_format":     sess.Capture.Params().Format.String(),
		"active_clients":   snap.Clients,
		"frames_sent":      snap.FramesSent,
		"bytes_sent":       snap.BytesSent,
		"uptime_s":         uptime,
		"fps_out":          float64(snap.FramesSent) / uptime,
		"bitrate_out_kbps": float64(snap.BytesSent) * 8 / 1000 / uptime,
		"capturing":        snap.Capturing,
	})
}

func (s *Server) handleFeedback(c *gin.Context) {
	sess, ok := s.manager.Find(c.Param("id"))
	if !ok {
		apiError(c, http.StatusNotFound, errNotFound, "no active session for device")
		return
	}
	switch c.Query("type") {
	case "idr":
		sess.RequestIDR()
		c.JSON(http.StatusOK, gin.H{"status": "idr_requested"})
	default:
		apiError(c, http.StatusBadRequest, errBadRequest, "unknown feedback type")
	}
}

// handleDeviceList returns device ids like "video0". The fallback entry
// keeps clients working on hosts where enumeration fails.
func (s *Server) handleDeviceList(c *gin.Context) {
	var ids []string
	for _, path := range capture.ListDevices() {
		ids = append(ids, strings.TrimPrefix(path, "/dev/"))
	}
	if len(ids) == 0 {
		ids = []string{"video0"}
	}
	c.JSON(http.StatusOK, ids)
}

// handleDeviceCaps distinguishes a missing device node from a node that
// cannot be probed: the former is 404, the latter 503.
func (s *Server) handleDeviceCaps(c *gin.Context) {
	id := c.Param("id")
	path := session.DevicePath(id)
	if _, err := os.Stat(path); err != nil {
		apiError(c, http.StatusNotFound, errNotFound, "no such device: "+path)
		return
	}
	caps, err := capture.ProbeCaps(path)
	if err != nil {
		apiError(c, http.StatusServiceUnavailable, errCapsUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": id, "path": path, "formats": caps})
}
