// Package app wires configuration into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/availability"
	"github.com/ent0n29/voicedesk/internal/booking"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/httpapi"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
	"github.com/ent0n29/voicedesk/internal/voice"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *session.Registry
	Engine   *engine.Orchestrator
	Store    store.Store
	Tenants  tenant.Directory
	Checker  *availability.Checker
	Booker   *booking.Booker
	Metrics  *observability.Metrics
	// VoiceDetail describes the resolved speech providers.
	VoiceDetail string

	// Cleanup should be called on shutdown to release external resources (DB, redis, speech clients).
	Cleanup func() error
}

// Build constructs every collaborator of the service. Only the store is
// mandatory; redis and remote providers degrade with a warning or fail per
// their configuration.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}
	closers := []func() error{st.Close}
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	var (
		directory tenant.Directory = st
		cache     *tenant.Cache
	)
	if cfg.RedisAddr != "" {
		rdb, err := tenant.OpenRedis(ctx, tenant.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("redis unavailable, tenant cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			closers = append(closers, rdb.Close)
			cache = tenant.NewCache(st, rdb, cfg.TenantCacheTTL, logger)
			directory = cache
		}
	}

	if cfg.TenantSeedFile != "" {
		seeded, err := store.SeedTenants(ctx, st, cfg.TenantSeedFile)
		if err != nil {
			return fail(fmt.Errorf("tenant seed failed: %w", err))
		}
		if cache != nil {
			for _, t := range seeded {
				if err := cache.Invalidate(ctx, t); err != nil {
					logger.Warn("tenant cache invalidation failed", "tenant_id", t.ID, "error", err)
				}
			}
		}
		logger.Info("tenants seeded", "count", len(seeded), "file", cfg.TenantSeedFile)
	}

	loc := cfg.Location()
	checker := availability.NewChecker(st, time.Now, loc)
	booker := booking.NewBooker(st, loc, time.Duration(cfg.DefaultAppointmentMinutes)*time.Minute, logger)
	orch := engine.New(engine.Config{
		Tenants:     directory,
		Sessions:    conversation.NewStore(st, time.Now),
		Transcripts: st,
		Machine:     dialogue.Machine{MaxRetries: cfg.DialogueMaxRetries},
		Checker:     checker,
		Booker:      booker,
		Metrics:     metrics,
		Logger:      logger,
		Location:    loc,
	})

	var turns voice.TurnProcessor = orch
	if cfg.BusinessLogicURL != "" {
		turns = voice.NewHTTPTurnClient(cfg.BusinessLogicURL, cfg.WebhookSecret, 5*time.Second)
		logger.Info("turns delegated to remote business logic", "url", cfg.BusinessLogicURL)
	}

	voiceSetup, err := resolveVoiceProviders(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if voiceSetup.cleanup != nil {
		closers = append(closers, voiceSetup.cleanup)
	}

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)
	registry.SetExpireHook(func(c session.Call) {
		logger.Info("call expired", "call_id", c.ID, "call_sid", c.CallSID, "tenant_id", c.TenantID)
	})

	calls := voice.NewCallHandler(voice.CallConfig{
		STT:        voiceSetup.sttProvider,
		TTS:        voiceSetup.ttsProvider,
		Voice:      voiceSetup.settings,
		Turns:      turns,
		Registry:   registry,
		Metrics:    metrics,
		Logger:     logger,
		FrameBytes: cfg.AudioFrameBytes,
	})

	guard := auth.Guard{WebhookSecret: cfg.WebhookSecret}
	if cfg.ChatJWTSecret != "" {
		tokens, err := auth.NewManager(cfg.ChatJWTSecret, cfg.ChatJWTIssuer)
		if err != nil {
			return fail(err)
		}
		guard.Tokens = tokens
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Engine:      orch,
		Tenants:     directory,
		Checker:     checker,
		Booker:      booker,
		Transcripts: st,
		Registry:    registry,
		Calls:       calls,
		TTS:         voiceSetup.ttsProvider,
		Voice:       voiceSetup.settings,
		Guard:       guard,
		Ready:       st.Ping,
		Metrics:     metrics,
		Logger:      logger,
	})

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Registry:    registry,
		Engine:      orch,
		Store:       st,
		Tenants:     directory,
		Checker:     checker,
		Booker:      booker,
		Metrics:     metrics,
		VoiceDetail: voiceSetup.detail,
		Cleanup:     cleanup,
	}, nil
}
