package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the receptionist service.
type Config struct {
	AppEnv                   string
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	Timezone                 string

	AllowAnyOrigin bool

	STTProvider string
	TTSProvider string
	// STTFallbackProvider is a second real STT backend tried per call when
	// the primary cannot start a session. Empty disables failover.
	STTFallbackProvider string

	DeepgramAPIKey         string
	DeepgramWSBaseURL      string
	DeepgramModel          string
	DeepgramLanguage       string
	DeepgramUtteranceEndMS int
	DeepgramEndpointingMS  int

	GoogleSTTLanguage string

	ElevenLabsAPIKey       string
	ElevenLabsBaseURL      string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string

	AudioFrameBytes  int
	BusinessLogicURL string

	DatabaseURL    string
	RedisAddr      string
	TenantCacheTTL time.Duration
	TenantSeedFile string

	WebhookSecret string
	ChatJWTSecret string
	ChatJWTIssuer string

	DialogueMaxRetries        int
	DefaultAppointmentMinutes int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:                 envOrDefault("APP_ENV", "production"),
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "voicedesk"),
		Timezone:               envOrDefault("APP_TIMEZONE", "Europe/Brussels"),
		STTProvider:            strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		TTSProvider:            strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		STTFallbackProvider:    strings.ToLower(stringsTrimSpace("STT_FALLBACK_PROVIDER")),
		DeepgramAPIKey:         stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramWSBaseURL:      envOrDefault("DEEPGRAM_WS_BASE_URL", "wss://api.deepgram.com"),
		DeepgramModel:          envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage:       envOrDefault("DEEPGRAM_LANGUAGE", "nl"),
		DeepgramUtteranceEndMS: 800,
		DeepgramEndpointingMS:  200,
		GoogleSTTLanguage:      envOrDefault("GOOGLE_STT_LANGUAGE", "nl-NL"),
		ElevenLabsAPIKey:       stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:      envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID:      stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		// Telephony plays 8 kHz mu-law; anything else would need transcoding.
		ElevenLabsOutputFormat:    envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "ulaw_8000"),
		AudioFrameBytes:           160,
		BusinessLogicURL:          stringsTrimSpace("BUSINESS_LOGIC_URL"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		RedisAddr:                 stringsTrimSpace("REDIS_ADDR"),
		TenantSeedFile:            stringsTrimSpace("TENANT_SEED_FILE"),
		WebhookSecret:             stringsTrimSpace("WEBHOOK_SECRET"),
		ChatJWTSecret:             stringsTrimSpace("CHAT_JWT_SECRET"),
		ChatJWTIssuer:             stringsTrimSpace("CHAT_JWT_ISSUER"),
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  2 * time.Minute,
		TenantCacheTTL:            5 * time.Minute,
		DialogueMaxRetries:        2,
		DefaultAppointmentMinutes: 30,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TenantCacheTTL, err = durationFromEnv("TENANT_CACHE_TTL", cfg.TenantCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DeepgramUtteranceEndMS, err = intFromEnv("DEEPGRAM_UTTERANCE_END_MS", cfg.DeepgramUtteranceEndMS)
	if err != nil {
		return Config{}, err
	}
	cfg.DeepgramEndpointingMS, err = intFromEnv("DEEPGRAM_ENDPOINTING_MS", cfg.DeepgramEndpointingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioFrameBytes, err = intFromEnv("AUDIO_FRAME_BYTES", cfg.AudioFrameBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.DialogueMaxRetries, err = intFromEnv("DIALOGUE_MAX_RETRIES", cfg.DialogueMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultAppointmentMinutes, err = intFromEnv("DEFAULT_APPOINTMENT_MINUTES", cfg.DefaultAppointmentMinutes)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if cfg.AudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("AUDIO_FRAME_BYTES must be positive")
	}
	if cfg.DialogueMaxRetries < 0 {
		return Config{}, fmt.Errorf("DIALOGUE_MAX_RETRIES must be >= 0")
	}
	if cfg.DefaultAppointmentMinutes <= 0 {
		return Config{}, fmt.Errorf("DEFAULT_APPOINTMENT_MINUTES must be positive")
	}
	switch cfg.STTProvider {
	case "auto", "deepgram", "google", "mock":
	default:
		return Config{}, fmt.Errorf("STT_PROVIDER must be one of auto, deepgram, google, mock")
	}
	switch cfg.TTSProvider {
	case "auto", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("TTS_PROVIDER must be one of auto, elevenlabs, mock")
	}
	switch cfg.STTFallbackProvider {
	case "":
	case "deepgram", "google":
		if primary := cfg.ResolvedSTTProvider(); primary == "mock" || primary == cfg.STTFallbackProvider {
			return Config{}, fmt.Errorf("STT_FALLBACK_PROVIDER=%s needs a different real STT_PROVIDER, got %s", cfg.STTFallbackProvider, primary)
		}
		if cfg.STTFallbackProvider == "deepgram" && cfg.DeepgramAPIKey == "" {
			return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required when STT_FALLBACK_PROVIDER=deepgram")
		}
	default:
		return Config{}, fmt.Errorf("STT_FALLBACK_PROVIDER must be empty, deepgram or google")
	}
	if cfg.STTProvider == "deepgram" && cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
	}
	if cfg.TTSProvider == "elevenlabs" && (cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsVoiceID == "") {
		return Config{}, fmt.Errorf("ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID are required when TTS_PROVIDER=elevenlabs")
	}

	return cfg, nil
}

// Location is the default business time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolvedSTTProvider applies "auto": Deepgram when a key is set, else mock.
func (c Config) ResolvedSTTProvider() string {
	if c.STTProvider != "auto" {
		return c.STTProvider
	}
	if c.DeepgramAPIKey != "" {
		return "deepgram"
	}
	return "mock"
}

// ResolvedTTSProvider applies "auto": ElevenLabs when configured, else mock.
func (c Config) ResolvedTTSProvider() string {
	if c.TTSProvider != "auto" {
		return c.TTSProvider
	}
	if c.ElevenLabsAPIKey != "" && c.ElevenLabsVoiceID != "" {
		return "elevenlabs"
	}
	return "mock"
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
