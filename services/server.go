package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/nsanthan/intervox/backend/models"
	"github.com/nsanthan/intervox/backend/relay"
	"github.com/nsanthan/intervox/backend/repository"
	"github.com/nsanthan/intervox/backend/voice"
)

// Server holds all server dependencies
type Server struct {
	config            *Config
	store             *repository.Store
	rawDB             *gorm.DB
	geminiService     *GeminiService
	elevenLabsService *ElevenLabsService
	audioCache        *AudioCache
	synthesizer       *SpeechSynthesizer
	identityService   *IdentityService
	responder         *ConversationResponder
	generation        *GenerationService
	feedback          *FeedbackService
	endpoints         *InterviewEndpoints
	sessions          *voice.Manager
	upgrader          websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(store *repository.Store, rawDB *gorm.DB) {
	s.store = store
	s.rawDB = rawDB
}

// InitializeServices wires every service the routes depend on. The text
// backend and synthesis are optional: without keys the responder and the
// relay degrade to their local fallbacks.
func (s *Server) InitializeServices() error {
	if s.config.AI.GeminiAPIKey != "" {
		s.geminiService = NewGeminiService(s.config.AI.GeminiAPIKey)
		slog.Info("Gemini service initialized")
	} else {
		slog.Warn("GEMINI_API_KEY not configured, generation will use local fallbacks")
	}

	if s.config.AI.ElevenLabsKey != "" {
		s.elevenLabsService = NewElevenLabsService(s.config.AI.ElevenLabsKey)
		s.audioCache = NewAudioCache(s.config.Audio.CacheDir)
		s.synthesizer = NewSpeechSynthesizer(s.elevenLabsService, s.audioCache)
		slog.Info("ElevenLabs service initialized", "cache_dir", s.config.Audio.CacheDir)
	}

	s.identityService = NewIdentityService(s.config.JWT.Secret)

	var generator TextGenerator
	if s.geminiService != nil {
		generator = s.geminiService
	} else {
		generator = unavailableGenerator{}
	}

	s.responder = NewConversationResponder(generator)
	if s.store != nil {
		s.generation = NewGenerationService(generator, s.store)
		s.feedback = NewFeedbackService(generator, s.store)
		s.endpoints = NewInterviewEndpoints(s.responder, s.generation, s.feedback, s.store)
		slog.Info("Interview services initialized")
	} else {
		slog.Warn("Database not configured, interview persistence disabled")
	}

	s.sessions = voice.NewManager()
	return nil
}

// unavailableGenerator stands in when no API key is configured. Every
// caller of TextGenerator already handles errors with a local fallback.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return "", errUnavailable
}

func (unavailableGenerator) GenerateChat(ctx context.Context, system string, messages []models.ConversationMessage, opts GenerateOptions) (string, error) {
	return "", errUnavailable
}

var errUnavailable = errors.New("text generation backend not configured")

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.identityService.Middleware)

		r.Post("/auth/guest", s.identityService.GuestHandler)
		r.Get("/voice", s.voiceHandler)

		if s.endpoints != nil {
			s.endpoints.RegisterRoutes(r)
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	s.sessions.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF
// attacks. An empty allowlist denies everything.
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	allowedOrigins := strings.Split(allowedOriginsStr, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	for _, allowed := range allowedOrigins {
		if allowed == origin {
			slog.Info("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if sqlDB, err := s.rawDB.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))

	slog.Info("Health check", "status", status, "database", dbStatus)
}

// voiceHandler upgrades to a WebSocket and runs one voice session over it.
// The browser acts as the speech peripheral; the session itself runs here.
func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	var synth relay.Synthesizer
	if s.synthesizer != nil {
		synth = s.synthesizer
	}
	bridge := relay.New(conn, identity.UserID, synth)

	engine := voice.NewEngine(bridge, s.responder, s.completer(), voice.Options{})
	for _, kind := range voice.AllEventKinds {
		engine.On(kind, bridge.ForwardEvent)
	}
	s.sessions.Register(identity.UserID, engine)

	slog.Info("Voice session connected", "user_id", identity.UserID, "session_id", bridge.SessionID)

	go bridge.WritePump()
	go bridge.ReadPump()

	cfg := s.sessionConfigFromQuery(r, identity)
	go func() {
		// Bounded wait for the client's capability report.
		startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := engine.Start(startCtx, cfg); err != nil {
			slog.Error("Voice session failed to start", "error", err, "user_id", identity.UserID)
			bridge.Close()
			return
		}
		<-bridge.Done()
		s.sessions.Unregister(identity.UserID, engine)
		engine.Wait()
		slog.Info("Voice session closed", "user_id", identity.UserID, "session_id", bridge.SessionID)
	}()
}

// completer assembles the persistence hooks the engine calls at session end.
// Without a database the engine still runs; outcomes are just not stored.
func (s *Server) completer() voice.Completer {
	if s.generation == nil || s.feedback == nil {
		return nil
	}
	return &sessionCompleter{generation: s.generation, feedback: s.feedback}
}

type sessionCompleter struct {
	generation *GenerationService
	feedback   *FeedbackService
}

func (c *sessionCompleter) CreateInterviewFromConversation(ctx context.Context, userID string, transcript []models.ConversationMessage) (string, error) {
	return c.generation.CreateInterviewFromConversation(ctx, userID, transcript)
}

func (c *sessionCompleter) CreateFeedback(ctx context.Context, interviewID, userID, feedbackID string, transcript []models.ConversationMessage) (string, error) {
	return c.feedback.CreateFeedback(ctx, interviewID, userID, feedbackID, transcript)
}

func (c *sessionCompleter) CompleteWithoutFeedback(ctx context.Context, interviewID string) error {
	return c.generation.CompleteWithoutFeedback(ctx, interviewID)
}

// sessionConfigFromQuery builds the session setup from connection query
// parameters. An interview session names its interview; its question list
// is loaded here so the engine starts with everything it needs.
func (s *Server) sessionConfigFromQuery(r *http.Request, identity *Identity) models.ConversationConfig {
	q := r.URL.Query()

	cfg := models.ConversationConfig{
		Mode:        models.ModeGenerate,
		UserID:      identity.UserID,
		UserName:    identity.UserName,
		InterviewID: q.Get("interview_id"),
		FeedbackID:  q.Get("feedback_id"),
	}
	if name := q.Get("user_name"); name != "" {
		cfg.UserName = name
	}

	if q.Get("mode") == string(models.ModeInterview) || cfg.InterviewID != "" {
		cfg.Mode = models.ModeInterview
		if s.store != nil && cfg.InterviewID != "" {
			interview, err := s.store.GetInterview(r.Context(), cfg.InterviewID)
			if err != nil || interview == nil {
				slog.Error("Failed to load interview for session", "error", err, "interview_id", cfg.InterviewID)
			} else {
				cfg.Questions = interview.QuestionList()
			}
		}
	}
	return cfg
}
