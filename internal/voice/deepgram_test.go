package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDeepgramListenURL(t *testing.T) {
	p := NewDeepgramProvider(DeepgramConfig{APIKey: "k"})
	raw, err := p.ListenURL()
	if err != nil {
		t.Fatalf("ListenURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "api.deepgram.com" || u.Path != "/v1/listen" {
		t.Fatalf("url = %s", raw)
	}
	want := map[string]string{
		"language":         "nl",
		"model":            "nova-2",
		"encoding":         "mulaw",
		"sample_rate":      "8000",
		"channels":         "1",
		"interim_results":  "true",
		"utterance_end_ms": "800",
		"vad_events":       "true",
		"endpointing":      "200",
	}
	q := u.Query()
	for k, v := range want {
		if q.Get(k) != v {
			t.Fatalf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestParseDeepgramMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want STTEvent
		ok   bool
	}{
		{
			name: "interim",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ik wil","confidence":0.7}]}}`,
			want: STTEvent{Type: STTEventPartial, Text: "ik wil", Confidence: 0.7},
			ok:   true,
		},
		{
			name: "final",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" morgen om drie uur ","confidence":0.93}]}}`,
			want: STTEvent{Type: STTEventFinal, Text: "morgen om drie uur", Confidence: 0.93},
			ok:   true,
		},
		{name: "empty result", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "utterance end", raw: `{"type":"UtteranceEnd","last_word_end":2.1}`, want: STTEvent{Type: STTEventUtteranceEnd}, ok: true},
		{name: "speech started", raw: `{"type":"SpeechStarted","timestamp":0.5}`, want: STTEvent{Type: STTEventSpeechStarted}, ok: true},
		{name: "error", raw: `{"type":"Error","description":"bad audio"}`, want: STTEvent{Type: STTEventError, Code: "deepgram_error", Detail: "bad audio"}, ok: true},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"x"}`},
		{name: "garbage", raw: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDeepgramMessage([]byte(tt.raw))
			if ok != tt.ok || got != tt.want {
				t.Fatalf("parseDeepgramMessage() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDeepgramSessionStreamsAudioAndEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		typ, data, err := conn.ReadMessage()
		if err != nil || typ != websocket.BinaryMessage {
			return
		}
		gotAudio <- data
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hallo","confidence":0.9}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UtteranceEnd"}`))
		// Wait for CloseStream.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	p := NewDeepgramProvider(DeepgramConfig{APIKey: "secret", WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := p.StartSession(ctx, "CA1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Fatalf("Authorization = %q", auth)
	}
	if err := sess.SendAudio(ctx, []byte{0xFF, 0x7F}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if audio := <-gotAudio; len(audio) != 2 {
		t.Fatalf("server audio = %v", audio)
	}

	var types []STTEventType
	for len(types) < 3 {
		select {
		case ev := <-sess.Events():
			types = append(types, ev.Type)
		case <-ctx.Done():
			t.Fatalf("timed out, events so far %v", types)
		}
	}
	if types[0] != STTEventSpeechStarted || types[1] != STTEventFinal || types[2] != STTEventUtteranceEnd {
		t.Fatalf("event types = %v", types)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for range sess.Events() {
	}
}

func TestDeepgramDialFailureIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewDeepgramProvider(DeepgramConfig{WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := p.StartSession(context.Background(), "CA1")
	var perr *ProviderError
	if !asProviderError(err, &perr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if perr.Status != http.StatusTooManyRequests || !perr.Retryable {
		t.Fatalf("provider error = %+v", perr)
	}
}
