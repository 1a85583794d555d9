package voice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func asProviderError(err error, target **ProviderError) bool {
	return errors.As(err, target)
}

func TestElevenLabsSynthesizeStreamsMulaw(t *testing.T) {
	var gotBody elevenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/voice-1/stream" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "ulaw_8000" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/basic")
		_, _ = w.Write([]byte{0xFF, 0xFE, 0xFD})
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL, VoiceID: "voice-1"})
	body, err := p.Synthesize(context.Background(), "Goedendag", p.DefaultSettings())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	defer body.Close()
	audio, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if len(audio) != 3 {
		t.Fatalf("audio = %v", audio)
	}

	want := elevenRequest{
		Text:    "Goedendag",
		ModelID: "eleven_turbo_v2_5",
		VoiceSettings: elevenVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
			Style:           0,
			UseSpeakerBoost: true,
		},
	}
	if gotBody != want {
		t.Fatalf("request body = %+v, want %+v", gotBody, want)
	}
}

func TestElevenLabsSynthesizeClassifiesErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		p := NewElevenLabsProvider(ElevenLabsConfig{BaseURL: srv.URL, VoiceID: "v"})
		_, err := p.Synthesize(context.Background(), "hallo", TTSSettings{})
		srv.Close()

		var perr *ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("status %d: error = %v, want ProviderError", tt.status, err)
		}
		if perr.Status != tt.status || perr.Retryable != tt.retryable || perr.Detail != "nope" {
			t.Fatalf("status %d: provider error = %+v", tt.status, perr)
		}
	}
}

func TestElevenLabsSynthesizeRequiresVoice(t *testing.T) {
	p := NewElevenLabsProvider(ElevenLabsConfig{})
	if _, err := p.Synthesize(context.Background(), "hallo", TTSSettings{}); err == nil {
		t.Fatal("Synthesize() without voice should fail")
	}
	if _, err := p.Synthesize(context.Background(), "  ", TTSSettings{VoiceID: "v"}); err == nil {
		t.Fatal("Synthesize() without text should fail")
	}
}
