package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nugget/docent/internal/agent"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is an outgoing WebSocket message.
type wsFrame struct {
	Type      string          `json:"type"` // "response" or "error"
	SessionID string          `json:"session_id,omitempty"`
	Response  *agent.Response `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    int             `json:"status,omitempty"`
}

// GET /v1/chat/ws
//
// Each text frame carries a ChatRequest and gets exactly one reply
// frame. A connection keeps its session id across frames that omit one.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var sessionID string

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req ChatRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendWS(conn, wsFrame{Type: "error", SessionID: sessionID, Error: "invalid message format", Status: http.StatusBadRequest})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}
		if strings.TrimSpace(req.Message) == "" {
			s.sendWS(conn, wsFrame{Type: "error", SessionID: req.SessionID, Error: agent.ErrEmptyMessage.Error(), Status: http.StatusBadRequest})
			continue
		}

		resp, err := s.loop.Run(ctx, &agent.Request{
			SessionID: req.SessionID,
			Message:   req.Message,
			Model:     req.Model,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("websocket chat turn failed", "error", err)
			s.sendWS(conn, wsFrame{Type: "error", SessionID: req.SessionID, Error: err.Error(), Status: statusFor(err, http.StatusInternalServerError)})
			continue
		}
		sessionID = resp.SessionID
		s.sendWS(conn, wsFrame{Type: "response", SessionID: resp.SessionID, Response: resp})
	}
}

func (s *Server) sendWS(conn *websocket.Conn, f wsFrame) {
	if err := conn.WriteJSON(f); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
