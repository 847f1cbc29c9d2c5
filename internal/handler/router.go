package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/datachat/backend/internal/analysis/structured"
	analystHandler "github.com/zhouzirui/datachat/backend/internal/handler/analyst"
	assistantHandler "github.com/zhouzirui/datachat/backend/internal/handler/assistant"
	"github.com/zhouzirui/datachat/backend/internal/handler/chat"
	"github.com/zhouzirui/datachat/backend/internal/handler/stream"
	"github.com/zhouzirui/datachat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/logger"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on. AI may be nil, in
// which case the chat transports answer 503.
type Deps struct {
	Profiles       assistant.Store
	Chat           *chatService.Service
	AI             stream.Responder
	Normalizer     *structured.Normalizer
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	assistants := assistantHandler.New(deps.Profiles)
	threads := chat.New(deps.Chat, deps.Profiles)
	analyst := analystHandler.New(deps.Normalizer)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status": "ok",
				"ai":     deps.AI != nil,
			})
		})

		assistants.RegisterRoutes(api)
		threads.RegisterRoutes(api)
		analyst.RegisterRoutes(api)

		if deps.AI == nil {
			unavailable := func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai chat unavailable")
			}
			api.Post("/chat", unavailable)
			api.Get("/stream/{threadID}", unavailable)
			api.Get("/ws/{threadID}", unavailable)
			return
		}

		turn := stream.NewTurn(deps.AI, deps.Chat, deps.Profiles)
		stream.New(turn, deps.Chat).RegisterRoutes(api)
		ws.New(turn, deps.Chat, middlewarePkg.OriginChecker(deps.AllowedOrigins)).RegisterRoutes(api)
	})

	return r
}
