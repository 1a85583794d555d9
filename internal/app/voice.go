package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/voice"
)

type voiceSetup struct {
	sttProvider voice.STTProvider
	ttsProvider voice.TTSProvider
	settings    voice.TTSSettings
	detail      string
	cleanup     func() error
}

// resolveVoiceProviders picks the speech backends from config. A configured
// STT fallback is another real backend; the mock provider is only used when
// it is selected outright.
func resolveVoiceProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) (voiceSetup, error) {
	var setup voiceSetup
	var closers []func() error
	var details []string

	stt, closeSTT, err := newSTTProvider(ctx, cfg.ResolvedSTTProvider(), cfg)
	if err != nil {
		return voiceSetup{}, err
	}
	setup.sttProvider = stt
	closers = append(closers, closeSTT)
	details = append(details, stt.Name()+" stt")

	if cfg.STTFallbackProvider != "" {
		fallback, closeFallback, err := newSTTProvider(ctx, cfg.STTFallbackProvider, cfg)
		if err != nil {
			_ = closeSTT()
			return voiceSetup{}, fmt.Errorf("stt fallback: %w", err)
		}
		setup.sttProvider = voice.NewFailoverSTT(stt, fallback)
		closers = append(closers, closeFallback)
		details = append(details, fallback.Name()+" stt fallback")
	}
	setup.cleanup = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	switch cfg.ResolvedTTSProvider() {
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			_ = setup.cleanup()
			return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseURL:      cfg.ElevenLabsBaseURL,
			VoiceID:      cfg.ElevenLabsVoiceID,
			ModelID:      cfg.ElevenLabsModelID,
			OutputFormat: cfg.ElevenLabsOutputFormat,
		})
		setup.ttsProvider = p
		setup.settings = p.DefaultSettings()
		details = append(details, "elevenlabs tts")
	case "mock":
		setup.ttsProvider = voice.NewMockProvider()
		details = append(details, "mock tts")
	default:
		_ = setup.cleanup()
		return voiceSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.TTSProvider)
	}

	setup.detail = strings.Join(details, ", ")
	logger.Info("voice providers resolved", "detail", setup.detail, "voice_id", setup.settings.VoiceID)
	return setup, nil
}

func noClose() error { return nil }

func newSTTProvider(ctx context.Context, name string, cfg config.Config) (voice.STTProvider, func() error, error) {
	switch name {
	case "deepgram":
		if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
			return nil, nil, fmt.Errorf("deepgram stt selected but DEEPGRAM_API_KEY is not set")
		}
		return voice.NewDeepgramProvider(voice.DeepgramConfig{
			APIKey:         cfg.DeepgramAPIKey,
			WSBaseURL:      cfg.DeepgramWSBaseURL,
			Model:          cfg.DeepgramModel,
			Language:       cfg.DeepgramLanguage,
			UtteranceEndMS: cfg.DeepgramUtteranceEndMS,
			EndpointingMS:  cfg.DeepgramEndpointingMS,
		}), noClose, nil
	case "google":
		p, err := voice.NewGoogleProvider(ctx, voice.GoogleConfig{Language: cfg.GoogleSTTLanguage})
		if err != nil {
			return nil, nil, fmt.Errorf("google speech init failed: %w", err)
		}
		return p, p.Close, nil
	case "mock":
		return voice.NewMockProvider(), noClose, nil
	default:
		return nil, nil, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|deepgram|google|mock)", name)
	}
}
