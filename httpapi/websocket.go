package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is a client to server websocket frame.
type wsMessage struct {
	Type        string           `json:"type"`
	ConsoleID   schema.ConsoleID `json:"console_id"`
	Text        string           `json:"text"`
	PendingText string           `json:"pending_text"`
}

// handleWebsocket streams hub events to the client and accepts console
// focus and input frames.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ctxID := s.service.NotebookContext(r.Context())
	log := logx.WithContextID(logx.Ctx(r.Context()), ctxID).With("remote", clientIP(r))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("http websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe, _ := s.hub.Subscribe(ctxID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go s.readWebsocket(ctx, cancel, conn)

	log.Info("http websocket opened")
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("http websocket closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("http websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readWebsocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	log := logx.Ctx(ctx)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("http websocket read failed", "err", err)
			}
			return
		}
		switch msg.Type {
		case "focus":
			s.signals.ActiveConsoleChanged(ctx, schema.ActiveConsoleChange{ConsoleID: msg.ConsoleID, PendingText: msg.PendingText})
		case "input":
			if _, err := s.service.ConsoleInput(ctx, schema.ConsoleInputRequest{ConsoleID: msg.ConsoleID, Text: msg.Text}); err != nil {
				log.Warn("http websocket input failed", "err", err)
			}
		default:
			log.Debug("http websocket frame ignored", "type", msg.Type)
		}
	}
}
