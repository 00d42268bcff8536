package stream

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

const wsWriteTimeout = 10 * time.Second

// ServeWS pushes frames over an upgraded WebSocket, one binary message per
// frame: raw JPEG for MJPEG sessions, start-code prefixed Annex-B for H.264.
func ServeWS(conn *websocket.Conn, s *session.Session, p session.Params, factory encoder.Factory) error {
	defer conn.Close()

	// Drain control and client messages so pings and close frames are
	// processed; any read error ends the stream.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(p []byte) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.BinaryMessage, p)
	}

	interval := frameInterval(p.FPS)
	var lastSeq uint64

	var enc encoder.Encoder
	var scratch *bitstream.I420
	if p.Codec == CodecH264 {
		var err error
		enc, scratch, err = newSessionEncoder(s, p, factory)
		if err != nil {
			return err
		}
		defer enc.Close()
		enc.ForceIDR()
	}
	idrSeen := s.IDRSeq()
	var out []byte

	for {
		select {
		case <-gone:
			return nil
		default:
		}
		if !s.Capture.Running() {
			return nil
		}

		if enc != nil {
			idrSeen = observeIDR(s, idrSeen, enc.ForceIDR)
			annexb, err := encodeLatest(s, enc, scratch, &lastSeq)
			if err != nil {
				logger.WarnF("ws responder stopping: %v", err)
				return nil
			}
			if len(annexb) == 0 {
				continue
			}
			out = append(out[:0], bitstream.StartCode...)
			out = append(out, annexb...)
		} else {
			f, err := s.Capture.WaitFrame(lastSeq, 5*time.Second)
			if err != nil {
				logger.WarnF("ws responder stopping: %v", err)
				return nil
			}
			lastSeq = f.Seq
			out = f.Data
		}

		if err := send(out); err != nil {
			return nil
		}
		s.CountFrame(len(out))
		time.Sleep(interval)
	}
}
