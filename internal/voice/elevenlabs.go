package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	HTTPClient   *http.Client
}

// ElevenLabsProvider uses the HTTP streaming synthesis endpoint, which
// returns raw audio in the requested output format as it is generated.
type ElevenLabsProvider struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.HTTPClient == nil {
		// No overall timeout: the body streams for as long as the sentence
		// plays. Cancellation comes from the request context.
		cfg.HTTPClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
		}}
	}
	return &ElevenLabsProvider{cfg: cfg}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// DefaultSettings are the voice settings used for phone calls.
func (p *ElevenLabsProvider) DefaultSettings() TTSSettings {
	return TTSSettings{
		VoiceID:         p.cfg.VoiceID,
		ModelID:         p.cfg.ModelID,
		Stability:       0.5,
		SimilarityBoost: 0.8,
		Style:           0,
		SpeakerBoost:    true,
	}
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, settings TTSSettings) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	voiceID := settings.VoiceID
	if voiceID == "" {
		voiceID = p.cfg.VoiceID
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	modelID := settings.ModelID
	if modelID == "" {
		modelID = p.cfg.ModelID
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(elevenRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       clamp01(settings.Stability),
			SimilarityBoost: clamp01(settings.SimilarityBoost),
			Style:           clamp01(settings.Style),
			UseSpeakerBoost: settings.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/basic")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Detail: err.Error(), Retryable: ctx.Err() == nil}
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{
			Provider:  p.Name(),
			Status:    resp.StatusCode,
			Detail:    strings.TrimSpace(string(detail)),
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
		}
	}
	return resp.Body, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
