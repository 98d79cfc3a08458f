package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// maxChatMessage bounds one inbound chat message in bytes.
const maxChatMessage = 4096

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the reply as plain text and rendered HTML.
type ChatResponse struct {
	Reply string `json:"reply"`
	HTML  string `json:"html"`
}

func (s *Server) chatResponse(reply string) ChatResponse {
	out := ChatResponse{Reply: reply}
	html, err := renderHTML(reply)
	if err != nil {
		s.logger.Debug("reply markdown render failed", "error", err)
		return out
	}
	out.HTML = html
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatMessage*2)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(msg) > maxChatMessage {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "message too long")
		return
	}

	reply := s.loop.HandleTurn(r.Context(), userID, msg)
	writeJSON(w, s.chatResponse(reply), s.logger)
}

// Websocket timing.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// handleChatWS runs turns over a websocket. Each text frame is one user
// message; each reply is a JSON ChatResponse frame. Turns on one
// connection run in order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	if userID == "" {
		s.errorResponse(w, http.StatusUnauthorized, "missing "+UserHeader+" header or user parameter")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("user", userID, "remote", r.RemoteAddr)
	log.Info("chat websocket connected")

	conn.SetReadLimit(maxChatMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)

	// Pings keep idle connections alive. WriteControl is safe to call
	// concurrently with the reply writes below.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("chat websocket closed")
			} else {
				log.Debug("chat websocket read ended", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			continue
		}

		reply := s.loop.HandleTurn(ctx, userID, msg)

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(s.chatResponse(reply)); err != nil {
			log.Debug("chat websocket write failed", "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
