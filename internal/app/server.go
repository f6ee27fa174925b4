package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatdesk/gateway/internal/config"
	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
	"chatdesk/gateway/internal/observability"
	"chatdesk/gateway/internal/plugin"
	"chatdesk/gateway/internal/repo"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/service/agent"
	"chatdesk/gateway/internal/service/dispatch"
	"chatdesk/gateway/internal/service/ports"
	"chatdesk/gateway/internal/toolreg"
	"chatdesk/gateway/internal/workspace"
)

const version = "0.1.0"

const storeOpenTimeout = 10 * time.Second

var log = logger.Named("app")

var (
	_ ports.ChatStore = (*repo.Store)(nil)
	_ ports.ChatStore = (*repo.PostgresStore)(nil)
)

type Server struct {
	cfg       config.Config
	store     ports.ChatStore
	workspace *workspace.Workspace
	registry  *toolreg.Registry
	runner    ports.ModelRunner
	tools     ports.ToolExecutor
	agent     *agent.Service
}

// Option replaces a collaborator built by NewServer.
type Option func(*Server)

func WithModelRunner(r ports.ModelRunner) Option {
	return func(s *Server) { s.runner = r }
}

func WithChatStore(store ports.ChatStore) Option {
	return func(s *Server) { s.store = store }
}

func NewServer(cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		store, err := openChatStore(cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	ws, err := workspace.New(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("open workspace %q: %w", cfg.WorkspaceDir, err)
	}
	s.workspace = ws

	s.registry = toolreg.New()
	plugins, err := plugin.Register(s.registry, plugin.Catalog(ws, plugin.SearchConfig{
		URL:        cfg.Search.URL,
		APIKey:     cfg.Search.APIKey,
		MaxResults: cfg.Search.MaxResults,
	}, nil)...)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	s.tools = dispatch.New(s.registry, plugins, cfg.ToolTimeout())

	if s.runner == nil {
		s.runner = runner.New()
	}
	s.agent = agent.NewService(agent.Dependencies{Runner: s.runner, Tools: s.tools})

	log.WithFields(logger.Fields{
		"provider":  cfg.Model.Provider,
		"model":     cfg.Model.Model,
		"workspace": ws.Root(),
		"tools":     len(plugins),
	}).Info("server initialized")
	return s, nil
}

func openChatStore(cfg config.Config) (ports.ChatStore, error) {
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
		defer cancel()
		store, err := repo.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres chat store: %w", err)
		}
		return store, nil
	}
	store, err := repo.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}
	return store, nil
}

func (s *Server) Close() {
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("close chat store failed")
		}
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(observability.RequestID)
	r.Use(observability.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(observability.APIKey(s.cfg.APIKey))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Get("/version", s.handleVersion)
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(api chi.Router) {
		api.Post("/chat", s.handleChat)

		api.Route("/chats", func(r chi.Router) {
			r.Get("/", s.listChats)
			r.Get("/{chat_id}", s.getChat)
			r.Delete("/{chat_id}", s.deleteChat)
		})

		api.Route("/files", func(r chi.Router) {
			r.Get("/", s.listFiles)
			r.Get("/*", s.getFile)
			r.Put("/*", s.putFile)
			r.Delete("/*", s.deleteFile)
		})

		api.Get("/tools", s.listTools)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key,X-Request-Id")
		w.Header().Set("Access-Control-Expose-Headers", "X-Chat-Id,X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string, details interface{}) {
	writeJSON(w, code, domain.APIErrorBody{Error: domain.APIError{Code: errCode, Message: message, Details: details}})
}
