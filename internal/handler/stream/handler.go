package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler 通过 SSE 推送对话过程
type Handler struct {
	turn    *Turn
	chatSvc *chatService.Service
}

// New 创建流式处理器
func New(turn *Turn, chatSvc *chatService.Service) *Handler {
	return &Handler{turn: turn, chatSvc: chatSvc}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/stream/{threadID}", h.handleStream)
}

type chatRequest struct {
	ThreadID    string                    `json:"threadId"`
	AssistantID string                    `json:"assistantId"`
	Message     string                    `json:"message" validate:"required"`
	System      string                    `json:"system"`
	Tools       map[string]ClientToolSpec `json:"tools"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	var (
		thread chat.Thread
		err    error
	)
	if req.ThreadID == "" {
		assistantID := req.AssistantID
		if assistantID == "" {
			assistantID = assistant.DefaultID
		}
		if _, ok := h.turn.profiles.FindByID(assistantID); !ok {
			utils.RespondError(w, http.StatusBadRequest, "assistant not found")
			return
		}
		thread, err = h.chatSvc.CreateThread(r.Context(), assistantID)
	} else {
		thread, err = h.chatSvc.GetThread(r.Context(), req.ThreadID)
	}
	if err != nil {
		respondThreadError(w, err)
		return
	}

	h.serve(w, r, thread, Input{Message: req.Message, System: req.System, Tools: req.Tools})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	thread, err := h.chatSvc.GetThread(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		respondThreadError(w, err)
		return
	}

	h.serve(w, r, thread, Input{Message: message, System: r.URL.Query().Get("system")})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, thread chat.Thread, in Input) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if _, err := h.turn.Profile(thread); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.Header().Set("X-Thread-Id", thread.ID)
	w.WriteHeader(http.StatusOK)

	emit := func(event string, data any) error {
		return utils.SendSSEEvent(w, flusher, event, data)
	}
	if err := h.turn.Run(r.Context(), thread, in, emit); err != nil {
		log.Error("stream turn failed", "thread", thread.ID, "err", err)
	}
}

func respondThreadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrThreadNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrAssistantRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
