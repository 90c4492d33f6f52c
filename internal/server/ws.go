package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casebase/voicechat/internal/audio"
	"github.com/casebase/voicechat/internal/capture"
	"github.com/casebase/voicechat/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum incoming frame size. Generous for PCM frames.
	maxFrameBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// startFrame is the first message of a live recording session
type startFrame struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// handleStream carries one live recording session over a websocket. The
// peer opens with a JSON start frame, then sends binary PCM-16 frames;
// level and transcript events flow back as JSON. A stop frame or closing
// the socket ends the take.
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The session begins with a JSON start frame.
	var start startFrame
	if err := conn.ReadJSON(&start); err != nil || start.Type != "start" {
		h.writeWSError(conn, "expected a start frame")
		return
	}

	sampleRate := start.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.config.Speech.SampleRate
	}
	channels := start.Channels
	if channels < 0 {
		channels = 0
	}

	source := capture.NewPushSource(sampleRate, channels, 32)
	defer source.Close()

	sess, err := h.sessions.Start(r.Context(), source)
	if err != nil {
		h.writeWSError(conn, err.Error())
		return
	}

	h.metrics.RecordSessionStarted()
	sessionStart := time.Now()

	// Writer: session events and pings out.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		bySilence := false
		for {
			select {
			case ev, ok := <-sess.Events():
				if !ok {
					h.metrics.RecordSessionFinished(time.Since(sessionStart).Seconds(), bySilence)
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}

				switch {
				case ev.Type == session.EventLevel:
					h.metrics.RecordFrame(ev.Energy >= h.config.Session.SilenceThreshold, ev.Energy)
				case ev.Type == session.EventStopped && ev.Reason == session.StopSilence:
					bySilence = true
				}

				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}

			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader: PCM frames and control messages in.
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Websocket session closed unexpectedly", slog.String("error", err.Error()))
			}
			source.Close()
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			samples := audio.BytesToPCM16(data)
			if len(samples) == 0 {
				continue
			}
			source.Push(audio.PCM16ToFloat(samples))

		case websocket.TextMessage:
			var control controlFrame
			if err := json.Unmarshal(data, &control); err != nil {
				h.logger.Warn("Discarding malformed control frame", slog.String("error", err.Error()))
				continue
			}
			if control.Type == "stop" {
				source.End()
			}
		}
	}

	select {
	case <-sess.Done():
	case <-time.After(30 * time.Second):
		h.logger.Warn("Timed out waiting for session teardown", slog.String("session_id", sess.ID()))
	}
	<-writerDone
}

func (h *HTTPServer) writeWSError(conn *websocket.Conn, detail string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(map[string]string{"type": "error", "error": detail})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, detail))
}
