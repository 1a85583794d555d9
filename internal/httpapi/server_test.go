package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/availability"
	"github.com/ent0n29/voicedesk/internal/booking"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
	"github.com/ent0n29/voicedesk/internal/voice"
)

type testEnv struct {
	ts       *httptest.Server
	store    *store.InMemoryStore
	registry *session.Registry
	now      time.Time
	loc      *time.Location
}

func salon() tenant.Tenant {
	weekday := tenant.Hours{Open: "09:00", Close: "18:00"}
	return tenant.Tenant{
		ID:       "salon",
		Name:     "Salon Lisa",
		AgentID:  "asst-1",
		Timezone: "Europe/Brussels",
		OpeningHours: map[string]tenant.Hours{
			"monday": weekday, "tuesday": weekday, "wednesday": weekday,
			"thursday": weekday, "friday": weekday,
			"sunday": {Closed: true},
		},
		Services: []tenant.Service{{Name: "Knippen", DurationMinutes: 30}, {Name: "Kleuren", DurationMinutes: 90}},
	}
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	clock := func() time.Time { return now }

	s := store.NewInMemoryStore()
	if err := s.UpsertTenant(context.Background(), salon()); err != nil {
		t.Fatalf("UpsertTenant() error = %v", err)
	}
	metrics := observability.NewMetrics("test_httpapi")
	checker := availability.NewChecker(s, clock, loc)
	booker := booking.NewBooker(s, loc, 30*time.Minute, nil)
	orch := engine.New(engine.Config{
		Tenants:     s,
		Sessions:    conversation.NewStore(s, clock),
		Transcripts: s,
		Checker:     checker,
		Booker:      booker,
		Metrics:     metrics,
		Location:    loc,
		Now:         clock,
	})
	registry := session.NewRegistry(time.Minute)
	mock := voice.NewMockProvider("ik wil knippen")

	cfg := config.Config{
		Timezone:                  "Europe/Brussels",
		SessionInactivityTimeout:  time.Minute,
		DefaultAppointmentMinutes: 30,
		STTProvider:               "mock",
		TTSProvider:               "mock",
	}
	deps := Deps{
		Engine:      orch,
		Tenants:     s,
		Checker:     checker,
		Booker:      booker,
		Transcripts: s,
		Registry:    registry,
		Calls: voice.NewCallHandler(voice.CallConfig{
			STT: mock, TTS: mock, Turns: orch, Registry: registry, Metrics: metrics,
		}),
		TTS:     mock,
		Metrics: metrics,
		Now:     clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ts := httptest.NewServer(New(cfg, deps).Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: s, registry: registry, now: now, loc: loc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db down") }
	})

	res := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}
	health := decode[map[string]any](t, res)
	if health["active_calls"] != float64(0) || health["stt_provider"] != "mock" {
		t.Fatalf("healthz body = %v", health)
	}

	if res := env.do(t, http.MethodGet, "/readyz", nil, nil); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", res.StatusCode)
	}
	if res := env.do(t, http.MethodGet, "/metrics", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", res.StatusCode)
	}
}

func TestTurnEndpoint(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/turn", protocol.TurnRequest{
		BusinessID: "salon", ConversationID: "CA1", Transcript: conversation.GreetingSentinel,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", res.StatusCode)
	}
	greeting := decode[protocol.TurnResponse](t, res)
	if !strings.Contains(greeting.Response, "Salon Lisa") {
		t.Fatalf("greeting = %+v", greeting)
	}

	res = env.do(t, http.MethodPost, "/v1/turn", protocol.TurnRequest{
		BusinessID: "salon", ConversationID: "CA1", Transcript: "ik wil knippen",
	}, nil)
	next := decode[protocol.TurnResponse](t, res)
	if next.State != "COLLECT_DATE" {
		t.Fatalf("state after service = %q (%q)", next.State, next.Response)
	}
}

func TestTurnUnknownTenantStillSpeaks(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/turn", protocol.TurnRequest{
		BusinessID: "nope", ConversationID: "CA2", Transcript: "hallo",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
	if body := decode[protocol.TurnResponse](t, res); strings.TrimSpace(body.Response) == "" {
		t.Fatal("unknown tenant reply is empty")
	}

	res = env.do(t, http.MethodPost, "/v1/turn", map[string]string{"business_id": "salon"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing conversation_id status = %d, want 400", res.StatusCode)
	}
}

func TestTurnRequiresWebhookSecret(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Guard = auth.Guard{WebhookSecret: "s3cret"} })
	req := protocol.TurnRequest{BusinessID: "salon", ConversationID: "CA3"}

	if res := env.do(t, http.MethodPost, "/v1/turn", req, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("without secret status = %d, want 401", res.StatusCode)
	}
	if res := env.do(t, http.MethodPost, "/v1/turn", req, map[string]string{"x-webhook-secret": "wrong"}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d, want 401", res.StatusCode)
	}
	if res := env.do(t, http.MethodPost, "/v1/turn", req, map[string]string{"x-vapi-secret": "s3cret"}); res.StatusCode != http.StatusOK {
		t.Fatalf("valid secret status = %d, want 200", res.StatusCode)
	}
}

func TestChatCompletionsJSON(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/chat/completions", protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: "system", Content: "ignored"}, {Role: "user", Content: "ik wil knippen"}},
		Metadata: map[string]string{"tenant_id": "salon", "conversation_id": "chat-1"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	completion := decode[protocol.ChatCompletion](t, res)
	if completion.Object != protocol.ObjectChatCompletion || completion.Model != protocol.DefaultChatModel {
		t.Fatalf("completion = %+v", completion)
	}
	if len(completion.Choices) != 1 || completion.Choices[0].Message == nil || completion.Choices[0].Message.Content == "" {
		t.Fatalf("choices = %+v", completion.Choices)
	}

	sess, err := env.store.LoadSession(context.Background(), "chat-1", "salon")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if sess.Collected.Service == "" {
		t.Fatalf("chat turn did not collect the service: %+v", sess.Collected)
	}
}

func TestChatCompletionsStreamByAssistantID(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/chat/completions", protocol.ChatRequest{
		Stream:   true,
		Messages: []protocol.ChatMessage{},
		Call:     &protocol.ChatCall{ID: "call-9", AssistantID: "asst-1", Customer: protocol.ChatCustomer{Number: "+32470123456"}},
	}, nil)
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream does not end with [DONE]: %q", body)
	}
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3: %q", len(frames), body)
	}
	var first protocol.ChatCompletion
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first); err != nil {
		t.Fatalf("decode first chunk: %v", err)
	}
	if first.Object != protocol.ObjectChatCompletionChunk || !strings.Contains(first.Choices[0].Delta.Content, "Salon Lisa") {
		t.Fatalf("first chunk = %+v", first)
	}
}

func TestChatTenantFromBearerToken(t *testing.T) {
	tokens, err := auth.NewManager("jwt-secret", "voicedesk")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	env := newTestEnv(t, func(d *Deps) {
		d.Guard = auth.Guard{Tokens: tokens, Now: d.Now}
	})
	token, err := tokens.Issue(env.now, "salon", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	req := protocol.ChatRequest{Messages: []protocol.ChatMessage{}, Metadata: map[string]string{"conversation_id": "chat-2"}}
	if res := env.do(t, http.MethodPost, "/v1/chat/completions", req, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("without token status = %d, want 401", res.StatusCode)
	}
	res := env.do(t, http.MethodPost, "/v1/chat/completions", req, map[string]string{"Authorization": "Bearer " + token})
	completion := decode[protocol.ChatCompletion](t, res)
	if !strings.Contains(completion.Choices[0].Message.Content, "Salon Lisa") {
		t.Fatalf("token tenant greeting = %q", completion.Choices[0].Message.Content)
	}
}

func TestChatUnresolvedTenantApologizes(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/chat/completions", protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: "user", Content: "hallo"}},
		Call:     &protocol.ChatCall{AssistantID: "unknown-assistant"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	completion := decode[protocol.ChatCompletion](t, res)
	if strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		t.Fatal("apology is empty")
	}
}

func TestChatCallID(t *testing.T) {
	opening := []protocol.ChatMessage{
		{Role: "assistant", Content: "Hallo, met Salon Lisa."},
		{Role: "user", Content: "knippen"},
		{Role: "assistant", Content: "Voor welke dag?"},
	}
	turn2 := protocol.ChatRequest{Messages: append(append([]protocol.ChatMessage{}, opening...), protocol.ChatMessage{Role: "user", Content: "morgen"})}
	turn3 := protocol.ChatRequest{Messages: append(append([]protocol.ChatMessage{}, turn2.Messages...),
		protocol.ChatMessage{Role: "assistant", Content: "Hoe laat?"},
		protocol.ChatMessage{Role: "user", Content: "om tien uur"},
	)}
	if chatCallID(turn2) != chatCallID(turn3) {
		t.Fatalf("ids differ for the same opening: %q vs %q", chatCallID(turn2), chatCallID(turn3))
	}
	other := protocol.ChatRequest{Messages: []protocol.ChatMessage{{Role: "user", Content: "kleuren"}}}
	if chatCallID(other) == chatCallID(turn2) {
		t.Fatal("different openings share an id")
	}

	cases := []struct {
		req  protocol.ChatRequest
		want string
	}{
		{protocol.ChatRequest{Call: &protocol.ChatCall{ID: "call-1"}, Metadata: map[string]string{"conversation_id": "conv"}}, "call-1"},
		{protocol.ChatRequest{Metadata: map[string]string{"conversation_id": "conv"}}, "conv"},
		{protocol.ChatRequest{Metadata: map[string]string{"user_id": "u-1"}}, "u-1"},
	}
	for _, tc := range cases {
		if got := chatCallID(tc.req); got != tc.want {
			t.Errorf("chatCallID(%+v) = %q, want %q", tc.req, got, tc.want)
		}
	}
}

func TestAvailabilitySlots(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, env.loc)
	if _, err := env.store.CreateAppointment(context.Background(), store.Appointment{
		TenantID: "salon", CustomerName: "An", StartTime: start, EndTime: start.Add(30 * time.Minute), Status: store.StatusScheduled,
	}); err != nil {
		t.Fatalf("CreateAppointment() error = %v", err)
	}

	res := env.do(t, http.MethodGet, "/v1/availability?tenant_id=salon&date=2026-03-02&service=knippen", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	day := decode[availability.Day](t, res)
	if !day.Open || len(day.Slots) != 18 || day.AvailableCount != 17 {
		t.Fatalf("day = open:%v slots:%d available:%d", day.Open, len(day.Slots), day.AvailableCount)
	}

	res = env.do(t, http.MethodGet, "/v1/availability?tenant_id=salon&date=2026-03-08", nil, nil)
	if closed := decode[availability.Day](t, res); closed.Open || len(closed.Slots) != 0 {
		t.Fatalf("sunday = %+v", closed)
	}

	res = env.do(t, http.MethodGet, "/v1/availability?tenant_id=salon&date=2026-03-02&time=10:00", nil, nil)
	check := decode[availability.Result](t, res)
	if check.Available || check.Reason != availability.ReasonOccupied || len(check.Alternatives) == 0 {
		t.Fatalf("check = %+v", check)
	}

	cases := []struct {
		path string
		want int
	}{
		{"/v1/availability?date=2026-03-02", http.StatusBadRequest},
		{"/v1/availability?tenant_id=ghost", http.StatusNotFound},
		{"/v1/availability?tenant_id=salon&date=02-03-2026", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if res := env.do(t, http.MethodGet, tc.path, nil, nil); res.StatusCode != tc.want {
			t.Errorf("GET %s status = %d, want %d", tc.path, res.StatusCode, tc.want)
		}
	}
}

func TestCallsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	call := env.registry.Register(session.RegisterRequest{CallSID: "CA7", StreamSID: "MZ7", TenantID: "salon"})
	env.do(t, http.MethodPost, "/v1/turn", protocol.TurnRequest{
		BusinessID: "salon", ConversationID: "CA7", Transcript: "ik wil knippen",
	}, nil)

	list := decode[struct {
		Active int            `json:"active"`
		Calls  []session.Call `json:"calls"`
	}](t, env.do(t, http.MethodGet, "/v1/calls?tenant_id=salon", nil, nil))
	if list.Active != 1 || len(list.Calls) != 1 || list.Calls[0].ID != call.ID {
		t.Fatalf("list = %+v", list)
	}

	got := decode[session.Call](t, env.do(t, http.MethodGet, "/v1/calls/"+call.ID, nil, nil))
	if got.CallSID != "CA7" {
		t.Fatalf("get = %+v", got)
	}
	if res := env.do(t, http.MethodGet, "/v1/calls/missing", nil, nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing call status = %d", res.StatusCode)
	}

	transcript := decode[struct {
		ConversationID string             `json:"conversation_id"`
		Turns          []store.TurnRecord `json:"turns"`
	}](t, env.do(t, http.MethodGet, "/v1/calls/"+call.ID+"/transcript", nil, nil))
	if transcript.ConversationID != "CA7" || len(transcript.Turns) != 2 {
		t.Fatalf("transcript = %+v", transcript)
	}
	if transcript.Turns[0].Role != conversation.RoleUser || transcript.Turns[1].Role != conversation.RoleAssistant {
		t.Fatalf("transcript roles = %q, %q", transcript.Turns[0].Role, transcript.Turns[1].Role)
	}
}

func TestPreviewTTS(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/v1/voice/tts/preview", map[string]string{"text": "Goedemiddag"}, nil)
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("status = %d content-type = %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	raw, _ := io.ReadAll(res.Body)
	if len(raw) < 44 || string(raw[:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatalf("preview is not a WAV file (%d bytes)", len(raw))
	}

	if res := env.do(t, http.MethodPost, "/v1/voice/tts/preview", map[string]string{"text": " "}, nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text status = %d, want 400", res.StatusCode)
	}
}

func TestPerfLatency(t *testing.T) {
	env := newTestEnv(t)

	if res := env.do(t, http.MethodGet, "/v1/perf/latency", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", res.StatusCode)
	}
	if res := env.do(t, http.MethodDelete, "/v1/perf/latency", nil, nil); res.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", res.StatusCode)
	}
}

func TestTelephonyStreamGreets(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/telephony/stream?tenant_id=salon"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"}); err != nil {
		t.Fatalf("write connected: %v", err)
	}
	if err := conn.WriteJSON(protocol.Start{
		Event:     protocol.EventStart,
		StreamSID: "MZ1",
		Start:     protocol.StartPayload{StreamSID: "MZ1", CallSID: "CA1", MediaFormat: protocol.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1}},
	}); err != nil {
		t.Fatalf("write start: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg["event"] == "media" {
			if msg["streamSid"] != "MZ1" {
				t.Fatalf("media streamSid = %v", msg["streamSid"])
			}
			break
		}
	}
	if env.registry.ActiveCount() != 1 {
		t.Fatalf("active calls = %d, want 1", env.registry.ActiveCount())
	}
}

func TestTelephonyStreamSecret(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Guard = auth.Guard{WebhookSecret: "s3cret"} })
	base := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/telephony/stream"

	_, res, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without secret: err=%v res=%v", err, res)
	}
	conn, _, err := websocket.DefaultDialer.Dial(base+"?secret=s3cret", nil)
	if err != nil {
		t.Fatalf("dial with secret: %v", err)
	}
	conn.Close()
}
