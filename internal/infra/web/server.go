package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"clinref-chat/internal/config"
	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/infra/i18n"
)

// Engine is the per-client surface the handlers talk to. The application
// layer provides the real one; tests substitute a fake.
type Engine interface {
	SignIn(ctx context.Context, identityID string) (*model.Identity, error)
	SignOut(ctx context.Context)
	Identity() *model.Identity

	Submit(ctx context.Context, text string, onChunk func(cumulative string)) (model.Message, error)
	Stop()
	Suggestions() []string

	Sessions() []*model.ChatSession
	Transcript() []model.Message
	SwitchSession(ctx context.Context, sessionID string) error
	DeleteSession(sessionID string) error
	ToggleFavorite(sessionID string) error
	RefreshSessions(ctx context.Context) error

	PlayAudio(ctx context.Context, messageID string) error
	StopAudio(messageID string)
	AudioClip(messageID string) ([]byte, error)
	AudioState(messageID string) model.AudioState

	Preferences() model.Preferences
	PutPreferences(ctx context.Context, p model.Preferences) error
}

// EngineProvider resolves a device id to its engine instance.
type EngineProvider func(ctx context.Context, deviceID string) Engine

type Server struct {
	cfg      *config.Config
	provider EngineProvider
	auth     *AuthManager
	cat      *i18n.Catalog
	log      *zerolog.Logger
	server   *http.Server
}

func NewServer(cfg *config.Config, provider EngineProvider, auth *AuthManager, cat *i18n.Catalog, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "web.Server").Logger()
	return &Server{cfg: cfg, provider: provider, auth: auth, cat: cat, log: &l}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/stop", s.handleStop)
		r.Get("/suggestions", s.handleSuggestions)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{id}/load", s.handleLoadSession)
		r.Post("/sessions/{id}/favorite", s.handleFavorite)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Get("/audio/{messageID}", s.handleAudioClip)
		r.Post("/audio/{messageID}/play", s.handleAudioPlay)
		r.Post("/audio/{messageID}/stop", s.handleAudioStop)

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)

		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/signout", s.handleSignOut)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	return Chain(r, TraceID(), RequestLog(s.log), Recover(s.log))
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
