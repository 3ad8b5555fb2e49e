package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinref-chat/internal/application"
	"clinref-chat/internal/config"
	"clinref-chat/internal/domain/ports/adapter"
	aiAdapters "clinref-chat/internal/infra/adapters/ai"
	"clinref-chat/internal/infra/audio"
	pg "clinref-chat/internal/infra/db/postgres"
	"clinref-chat/internal/infra/i18n"
	"clinref-chat/internal/infra/logging"
	"clinref-chat/internal/infra/metrics"
	red "clinref-chat/internal/infra/redis"
	"clinref-chat/internal/infra/security"
	"clinref-chat/internal/infra/web"
	"clinref-chat/internal/infra/worker"
	"clinref-chat/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	localState := red.NewLocalStateRepo(redisClient)
	cache := red.NewSessionCache(redisClient, cfg.Redis.TTL)

	var enc *security.EncryptionService
	if cfg.Database.EncryptionKey != "" {
		enc, err = security.NewEncryptionService(cfg.Database.EncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("encryption service init failed")
		}
	}
	store := pg.NewSessionStore(pool, cache, enc)

	ai, err := buildAI(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai adapter init failed")
	}

	cat, err := i18n.NewCatalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n catalog init failed")
	}

	workers := worker.NewPool(0, logger)
	workers.Start(ctx)
	defer workers.Stop()

	gate := usecase.NewEntitlementGate(localState, cfg.Engine.PrivilegedRoles, cfg.Engine.FreeTierLimit, logger)
	stream := usecase.NewStreamController(ai, cfg.AI.MaxPromptTokens, cfg.Engine.HistoryWindow, logger)

	// Headless hosts pace playback into a discard sink; the clip bytes
	// themselves reach clients through the audio endpoint.
	output := audio.NewWriterOutput(func() (io.WriteCloser, error) {
		return nopCloser{io.Discard}, nil
	}, 32*1024)

	registry := application.NewRegistry(application.Deps{
		AI:                ai,
		Store:             store,
		Output:            output,
		Local:             localState,
		Gate:              gate,
		Stream:            stream,
		Pool:              workers,
		Cat:               cat,
		Log:               logger,
		PrefetchQuiet:     cfg.Engine.PrefetchQuiet,
		TitleRefreshDelay: cfg.Engine.TitleRefreshDelay,
		PlaybackRate:      cfg.Engine.PlaybackRate,
	})

	authMgr := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.SecureCookie, cfg.Auth.CookieDomain, cfg.Auth.TTL)
	srv := web.NewServer(cfg, func(ctx context.Context, deviceID string) web.Engine {
		return registry.Get(ctx, deviceID)
	}, authMgr, cat, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// buildAI picks the provider stack from the configured keys: OpenAI when its
// key is present, Gemini for chat with OpenAI narration when both are, and
// the canned offline adapter in dev mode with no keys at all.
func buildAI(ctx context.Context, cfg *config.Config) (adapter.GenerativeService, error) {
	var svc adapter.GenerativeService

	switch {
	case cfg.AI.GeminiKey != "" && cfg.AI.OpenAIKey != "":
		gem, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel)
		if err != nil {
			return nil, err
		}
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, cfg.AI.OpenAIBaseURL, cfg.AI.NarrationVoice)
		if err != nil {
			return nil, err
		}
		svc = aiAdapters.NewCompositeAdapter(gem, oa)
	case cfg.AI.GeminiKey != "":
		gem, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel)
		if err != nil {
			return nil, err
		}
		svc = gem
	case cfg.AI.OpenAIKey != "":
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, cfg.AI.OpenAIBaseURL, cfg.AI.NarrationVoice)
		if err != nil {
			return nil, err
		}
		svc = oa
	default:
		svc = aiAdapters.NewNoopAI()
	}

	if cfg.AI.ConcurrentLimit > 0 {
		svc = aiAdapters.NewLimitedAI(svc, cfg.AI.ConcurrentLimit)
	}
	return svc, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
