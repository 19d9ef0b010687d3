package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentoven/huddle/pkg/models"
)

// Frame types exchanged on /ws. Server events are sent as models.Event.
const (
	FrameChat    = "chat"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameCancel  = "cancel"
	FrameSession = "session"
	FrameError   = "error"
)

// wsFrame is a client request or a server control reply.
type wsFrame struct {
	Type         string  `json:"type"`
	SessionID    string  `json:"session_id,omitempty"`
	Message      string  `json:"message,omitempty"`
	Mode         string  `json:"mode,omitempty"`
	MaxRounds    int     `json:"max_rounds,omitempty"`
	MinConsensus float64 `json:"min_consensus,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// WebSocket serves the bidirectional chat transport. Each chat frame runs
// one pass in the background so pings and cancels are read while agents
// are speaking. A chat frame without a session id starts a new session,
// announced with a "session" frame.
// GET /ws
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	for {
		var f wsFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Msg("WebSocket read ended")
			}
			return
		}

		switch f.Type {
		case FramePing:
			h.writeFrame(ctx, conn, wsFrame{Type: FramePong})

		case FrameCancel:
			h.Engine.CancelSession(f.SessionID)

		case FrameChat:
			req, err := chatRequest{
				Message:      f.Message,
				Mode:         f.Mode,
				MaxRounds:    f.MaxRounds,
				MinConsensus: f.MinConsensus,
			}.toEngine(f.SessionID)
			if err != nil {
				h.writeFrame(ctx, conn, wsFrame{Type: FrameError, SessionID: f.SessionID, Error: err.Error()})
				continue
			}

			sess, created, err := h.Store.GetOrCreate(ctx, f.SessionID)
			if err != nil {
				h.writeFrame(ctx, conn, wsFrame{Type: FrameError, SessionID: f.SessionID, Error: err.Error()})
				continue
			}
			req.SessionID = sess.ID
			if created {
				h.writeFrame(ctx, conn, wsFrame{Type: FrameSession, SessionID: sess.ID})
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				err := h.Engine.Run(ctx, req, func(ev models.Event) error {
					return wsjson.Write(ctx, conn, ev)
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Str("session", req.SessionID).Msg("WebSocket pass failed")
				}
			}()

		default:
			h.writeFrame(ctx, conn, wsFrame{Type: FrameError, Error: "unknown frame type " + f.Type})
		}
	}
}

func (h *Handlers) writeFrame(ctx context.Context, conn *websocket.Conn, f wsFrame) {
	if err := wsjson.Write(ctx, conn, f); err != nil {
		log.Debug().Err(err).Str("type", f.Type).Msg("WebSocket write failed")
	}
}
