package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/logging"
)

const (
	maxPreviewChars = 500
	// 60 s of 8 kHz mu-law.
	maxPreviewBytes = 8000 * 60
)

type previewTTSRequest struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

// handlePreviewTTS synthesizes one sentence with the call voice and returns
// it as a mu-law WAV.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.TTS == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "text-to-speech is not configured")
		return
	}

	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if utf8.RuneCountInString(text) > maxPreviewChars {
		respondError(w, http.StatusBadRequest, "text_too_long", "text exceeds 500 characters")
		return
	}

	settings := s.deps.Voice
	if v := strings.TrimSpace(req.VoiceID); v != "" {
		settings.VoiceID = v
	}

	stream, err := s.deps.TTS.Synthesize(r.Context(), text, settings)
	if err != nil {
		logging.From(r.Context()).Warn("tts preview failed", "provider", s.deps.TTS.Name(), "error", err)
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	defer stream.Close()
	mulaw, err := io.ReadAll(io.LimitReader(stream, maxPreviewBytes))
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	wav, err := audio.EncodeMulawWAV(mulaw, 8000)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "wav_encode_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Format", "ulaw_8000")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
