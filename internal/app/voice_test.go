package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/voice"
)

func TestResolveVoiceProvidersUsesRealProvidersWithoutMockFailover(t *testing.T) {
	cfg := config.Config{
		STTProvider:       "deepgram",
		TTSProvider:       "elevenlabs",
		DeepgramAPIKey:    "dg",
		ElevenLabsAPIKey:  "el",
		ElevenLabsVoiceID: "voice",
	}

	setup, err := resolveVoiceProviders(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("resolveVoiceProviders() error = %v", err)
	}
	defer setup.cleanup()

	if _, ok := setup.sttProvider.(*voice.DeepgramProvider); !ok {
		t.Fatalf("stt provider = %T, want *voice.DeepgramProvider", setup.sttProvider)
	}
	if _, ok := setup.ttsProvider.(*voice.ElevenLabsProvider); !ok {
		t.Fatalf("tts provider = %T, want *voice.ElevenLabsProvider", setup.ttsProvider)
	}
	if setup.detail != "deepgram stt, elevenlabs tts" {
		t.Fatalf("detail = %q", setup.detail)
	}
}

func TestResolveVoiceProvidersRejectsFallbackWithoutCredentials(t *testing.T) {
	cfg := config.Config{
		STTProvider:         "mock",
		TTSProvider:         "mock",
		STTFallbackProvider: "deepgram",
	}

	if _, err := resolveVoiceProviders(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("resolveVoiceProviders() error = nil, want missing DEEPGRAM_API_KEY")
	}
}
