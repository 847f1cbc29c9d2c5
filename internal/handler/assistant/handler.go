package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler 助手列表的HTTP处理器
type Handler struct {
	profiles assistant.Store
}

func New(profiles assistant.Store) *Handler {
	return &Handler{profiles: profiles}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistants", h.handleListAssistants)
}

func (h *Handler) handleListAssistants(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.List())
}
