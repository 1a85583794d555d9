package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseInboundStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"customParameters":{"tenant_id":"salon","caller":"+32470123456"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`)
	msg, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound() error = %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("message type = %T, want Start", msg)
	}
	if start.StreamSID != "MZ1" || start.Start.CallSID != "CA1" || start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("unexpected start: %+v", start)
	}
	if start.CustomParameter("tenant_id") != "salon" || start.CustomParameter("missing") != "" {
		t.Fatalf("custom parameters = %v", start.Start.CustomParameters)
	}
}

func TestParseInboundStartTakesNestedStreamSID(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"event":"start","start":{"streamSid":"MZ9","callSid":"CA9"}}`))
	if err != nil {
		t.Fatalf("ParseInbound() error = %v", err)
	}
	if msg.(Start).StreamSID != "MZ9" {
		t.Fatalf("StreamSID = %q", msg.(Start).StreamSID)
	}
}

func TestParseInboundMedia(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"20","payload":"//7/"}}`))
	if err != nil {
		t.Fatalf("ParseInbound() error = %v", err)
	}
	audio, err := msg.(Media).Audio()
	if err != nil {
		t.Fatalf("Audio() error = %v", err)
	}
	if len(audio) != 3 || audio[0] != 0xff || audio[1] != 0xfe {
		t.Fatalf("audio = %v", audio)
	}
}

func TestParseInboundRejects(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{`not json`, ErrInvalidMessage},
		{`{"event":"media","streamSid":"MZ1","media":{}}`, ErrInvalidMessage},
		{`{"event":"start","start":{}}`, ErrInvalidMessage},
		{`{"event":"dtmf","dtmf":{"digit":"1"}}`, ErrUnsupportedEvent},
		{`{"event":"wat"}`, ErrUnsupportedEvent},
	}
	for _, tt := range tests {
		if _, err := ParseInbound([]byte(tt.raw)); !errors.Is(err, tt.want) {
			t.Fatalf("ParseInbound(%s) error = %v, want %v", tt.raw, err, tt.want)
		}
	}
}

func TestParseInboundMarkAndStop(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"tts_3"}}`))
	if err != nil || msg.(Mark).Mark.Name != "tts_3" {
		t.Fatalf("mark = %+v, %v", msg, err)
	}
	msg, err = ParseInbound([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil || msg.(Stop).Stop.CallSID != "CA1" {
		t.Fatalf("stop = %+v, %v", msg, err)
	}
}

func TestOutboundEnvelopes(t *testing.T) {
	raw, _ := json.Marshal(NewMedia("MZ1", []byte{0xff, 0x7f}))
	if string(raw) != `{"event":"media","streamSid":"MZ1","media":{"payload":"/38="}}` {
		t.Fatalf("media = %s", raw)
	}
	raw, _ = json.Marshal(NewClear("MZ1"))
	if string(raw) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("clear = %s", raw)
	}
	raw, _ = json.Marshal(NewMark("MZ1", "tts_1"))
	if string(raw) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"tts_1"}}` {
		t.Fatalf("mark = %s", raw)
	}
}

func TestChatRequestMessages(t *testing.T) {
	var req ChatRequest
	body := `{"model":"x","messages":[{"role":"system","content":"s"},{"role":"user","content":"kleuren"},{"role":"assistant","content":"welke dag?"},{"role":"user","content":"  morgen "}],"call":{"id":"c1","assistantId":"a1","customer":{"number":"+32470"}}}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.LastUserMessage() != "morgen" {
		t.Fatalf("LastUserMessage() = %q", req.LastUserMessage())
	}
	if prior := req.PriorMessages(); len(prior) != 3 || prior[2].Role != "assistant" {
		t.Fatalf("PriorMessages() = %+v", prior)
	}
	if req.Call.ID != "c1" || req.Call.AssistantID != "a1" || req.Call.Customer.Number != "+32470" {
		t.Fatalf("call = %+v", req.Call)
	}
}

func TestChatChunks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	chunks := NewChatChunks(DefaultChatModel, "Hallo.", now)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d", len(chunks))
	}
	first, _ := json.Marshal(chunks[0])
	if !strings.Contains(string(first), `"object":"chat.completion.chunk"`) || !strings.Contains(string(first), `"content":"Hallo."`) || !strings.Contains(string(first), `"finish_reason":null`) {
		t.Fatalf("first chunk = %s", first)
	}
	last, _ := json.Marshal(chunks[1])
	if !strings.Contains(string(last), `"delta":{}`) || !strings.Contains(string(last), `"finish_reason":"stop"`) {
		t.Fatalf("last chunk = %s", last)
	}
	if chunks[0].ID != chunks[1].ID {
		t.Fatal("chunks of one reply must share an id")
	}
}
