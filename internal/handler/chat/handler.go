package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	profiles assistant.Store
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, profiles assistant.Store) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		profiles: profiles,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/threads", func(r chi.Router) {
		r.Post("/", h.handleCreateThread)
		r.Get("/", h.handleListThreads)
		r.Get("/{threadID}/messages", h.handleListMessages)
		r.Delete("/{threadID}", h.handleDeleteThread)
	})
}

type createThreadRequest struct {
	AssistantID string `json:"assistantId" validate:"required"`
}

func (h *Handler) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var payload createThreadRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.profiles.FindByID(payload.AssistantID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "assistant not found")
		return
	}

	thread, err := h.chatSvc.CreateThread(r.Context(), payload.AssistantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, thread)
}

func (h *Handler) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.chatSvc.ListThreads(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, threads)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteThread(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chatService.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatService.ErrAssistantRequired), errors.Is(err, chatService.ErrInvalidRole):
		status = http.StatusBadRequest
	}
	utils.RespondError(w, status, err.Error())
}
