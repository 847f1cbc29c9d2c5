package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/datachat/backend/internal/analysis/structured"
	"github.com/zhouzirui/datachat/backend/internal/config"
	"github.com/zhouzirui/datachat/backend/internal/handler"
	"github.com/zhouzirui/datachat/backend/internal/model/assistant"
	"github.com/zhouzirui/datachat/backend/internal/service/ai"
	analystsvc "github.com/zhouzirui/datachat/backend/internal/service/analyst"
	"github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		log.Error("datachat backend stopped", "err", err)
		os.Exit(1)
	}
}

// run 装配依赖并阻塞到服务退出。
func run(ctx context.Context) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.JSON)
	if envErr != nil {
		log.Debug("no .env file loaded, using process environment", "err", envErr)
	}

	profiles, err := loadProfiles(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to load assistant profiles: %w", err)
	}

	threadStore, err := openThreadStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open thread store: %w", err)
	}
	chatService := chat.NewService(threadStore)
	defer func() {
		if err := chatService.Close(); err != nil {
			log.Warn("failed to close thread store", "err", err)
		}
	}()

	analystClient := analystsvc.NewClient(analystsvc.Config{
		BaseURL:      cfg.Analyst.BaseURL,
		APIKey:       cfg.Analyst.APIKey,
		Timeout:      cfg.Analyst.Timeout,
		RateLimit:    cfg.Analyst.RateLimit,
		StrictShapes: cfg.Analyst.StrictShapes,
	})
	if !analystClient.Enabled() {
		log.Warn("ANALYST_BASE_URL not set, data analyst tools are disabled")
	}

	deps := handler.Deps{
		Profiles:       profiles,
		Chat:           chatService,
		Normalizer:     structured.New(structured.Options{Strict: cfg.Analyst.StrictShapes}),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	// 避免把 nil *ai.Service 装进接口
	if aiService := newAIService(ctx, cfg, analystClient); aiService != nil {
		deps.AI = aiService
	}

	return startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func loadProfiles(cfg config.StoreConfig) (*assistant.MemoryStore, error) {
	seed := assistant.Seed()
	if cfg.ProfilesPath == "" {
		return assistant.NewMemoryStore(seed), nil
	}
	profiles, err := assistant.LoadFile(cfg.ProfilesPath, seed)
	if err != nil {
		return nil, err
	}
	log.Info("assistant profiles loaded", "path", cfg.ProfilesPath, "count", len(profiles))
	return assistant.NewMemoryStore(profiles), nil
}

func openThreadStore(ctx context.Context, cfg config.StoreConfig) (chat.Store, error) {
	if cfg.ThreadDSN == "" {
		log.Info("THREAD_STORE_DSN not set, threads are kept in memory")
		return chat.NewMemoryStore(), nil
	}
	store, err := chat.NewSQLiteStore(ctx, cfg.ThreadDSN)
	if err != nil {
		return nil, err
	}
	log.Info("thread store opened", "dsn", cfg.ThreadDSN)
	return store, nil
}

func newAIService(ctx context.Context, cfg *config.Config, analystClient *analystsvc.Client) *ai.Service {
	if !cfg.AI.Enabled() {
		log.Warn("chat model credentials not configured, AI chat is disabled", "provider", cfg.AI.Provider)
		return nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Error("failed to create chat model, continuing without AI chat", "provider", cfg.AI.Provider, "err", err)
		return nil
	}

	userCtx := analystsvc.UserContext{"organisationId": cfg.Analyst.OrganisationID}
	svc, err := ai.NewService(ctx, chatModel, analystClient, userCtx, cfg.AI)
	if err != nil {
		log.Error("failed to initialize AI service, continuing without AI chat", "err", err)
		return nil
	}

	log.Info("AI service initialized", "provider", cfg.AI.Provider, "stream", cfg.AI.StreamResponse, "max_steps", cfg.AI.MaxSteps)
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("datachat backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
