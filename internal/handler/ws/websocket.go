package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/datachat/backend/internal/handler/stream"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket 对话处理器
type Handler struct {
	turn     *stream.Turn
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器，checkOrigin 为 nil 时接受任意来源
func New(turn *stream.Turn, chatSvc *chatService.Service, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		turn:    turn,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{threadID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type   string                           `json:"type"`
	Text   string                           `json:"text"`
	System string                           `json:"system"`
	Tools  map[string]stream.ClientToolSpec `json:"tools"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	ThreadID  string `json:"threadId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// connection 所有写操作都经由同一个 goroutine，gorilla/websocket 同一时刻只允许一个写者。
type connection struct {
	conn     *websocket.Conn
	threadID string
	out      chan outgoingMessage
}

func (c *connection) send(ctx context.Context, event string, data any) error {
	msg := outgoingMessage{Type: event, ThreadID: c.threadID, Data: data, Timestamp: time.Now().Unix()}
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn("websocket write failed", "thread", c.threadID, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	thread, err := h.chatSvc.GetThread(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "thread not found", http.StatusNotFound)
		return
	}
	profile, err := h.turn.Profile(thread)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &connection{conn: conn, threadID: thread.ID, out: make(chan outgoingMessage, 32)}
	go c.writeLoop(ctx, cancel)

	turns := make(chan inboundMessage, 4)
	go h.turnLoop(ctx, c, thread, turns)

	log.Info("websocket connected", "thread", thread.ID)
	_ = c.send(ctx, "connected", map[string]string{"assistantId": profile.ID})

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "thread", thread.ID, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch {
		case msg.Type != "message":
			_ = c.send(ctx, stream.EventError, stream.ErrorPayload{Error: "unsupported message type " + msg.Type})
		case strings.TrimSpace(msg.Text) == "":
			_ = c.send(ctx, stream.EventError, stream.ErrorPayload{Error: "text is required"})
		default:
			select {
			case turns <- msg:
			default:
				_ = c.send(ctx, stream.EventError, stream.ErrorPayload{Error: "too many pending messages"})
			}
		}
	}
}

// turnLoop 逐条执行对话，保证消息记录有序。
func (h *Handler) turnLoop(ctx context.Context, c *connection, thread chat.Thread, turns <-chan inboundMessage) {
	emit := func(event string, data any) error { return c.send(ctx, event, data) }
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-turns:
			in := stream.Input{Message: msg.Text, System: msg.System, Tools: msg.Tools}
			if err := h.turn.Run(ctx, thread, in, emit); err != nil {
				log.Error("websocket turn failed", "thread", thread.ID, "err", err)
			}
		}
	}
}
