package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/availability"
	"github.com/ent0n29/voicedesk/internal/booking"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
	"github.com/ent0n29/voicedesk/internal/voice"
)

// Engine is the dialogue surface the HTTP routes drive.
type Engine interface {
	ProcessTurn(ctx context.Context, in engine.Input) (engine.Output, error)
	HandleTurn(ctx context.Context, req protocol.TurnRequest) (protocol.TurnResponse, error)
}

// Deps are the collaborators behind the routes. Calls, TTS, Transcripts,
// Ready and Metrics may be nil; the matching routes then answer 501 or skip
// the check.
type Deps struct {
	Engine      Engine
	Tenants     tenant.Directory
	Checker     *availability.Checker
	Booker      *booking.Booker
	Transcripts store.Transcripts
	Registry    *session.Registry
	Calls       *voice.CallHandler
	TTS         voice.TTSProvider
	Voice       voice.TTSSettings
	Guard       auth.Guard
	Ready       func(ctx context.Context) error
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

type Server struct {
	cfg      config.Config
	deps     Deps
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry(cfg.SessionInactivityTimeout)
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Media gateways do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware(s.deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.deps.Metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/telephony/stream", s.handleTelephonyStream)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Guard.Middleware)
		r.Post("/v1/turn", s.handleTurn)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Get("/v1/availability", s.handleAvailability)
		r.Get("/v1/calls", s.handleListCalls)
		r.Get("/v1/calls/{id}", s.handleGetCall)
		r.Get("/v1/calls/{id}/transcript", s.handleCallTranscript)
		r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)
		r.Get("/v1/perf/latency", s.handlePerfLatency)
		r.Delete("/v1/perf/latency", s.handleResetPerfLatency)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.deps.Registry.ActiveCount(),
		"stt_provider": s.cfg.ResolvedSTTProvider(),
		"tts_provider": s.cfg.ResolvedTTSProvider(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			logging.From(r.Context()).Warn("readiness check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleTelephonyStream upgrades a media stream and runs the call on it
// until the stream ends. tenant_id and caller_id in the query are defaults
// the start message may override.
func (s *Server) handleTelephonyStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "telephony is not configured")
		return
	}
	if !s.streamAuthorized(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid stream secret")
		return
	}
	q := r.URL.Query()
	params := voice.CallParams{
		TenantID: strings.TrimSpace(q.Get("tenant_id")),
		CallerID: strings.TrimSpace(q.Get("caller_id")),
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.From(r.Context()).Warn("telephony upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	if err := s.deps.Calls.Serve(r.Context(), conn, params); err != nil {
		logging.From(r.Context()).Info("call ended with error", "error", err)
	}
}

// streamAuthorized accepts the webhook secret as a header or, for gateways
// that cannot set headers on the stream request, as the secret query value.
func (s *Server) streamAuthorized(r *http.Request) bool {
	secret := s.deps.Guard.WebhookSecret
	if secret == "" {
		return true
	}
	if _, err := s.deps.Guard.Authenticate(r); err == nil {
		return true
	}
	given := r.URL.Query().Get("secret")
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
