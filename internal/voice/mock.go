package voice

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/ent0n29/voicedesk/internal/audio"
)

// MockProvider is a local provider used when no STT/TTS credentials are
// configured and by the call simulator. Its recognizer treats every burst
// of non-silent audio followed by silence as one utterance and answers with
// the next scripted transcript.
type MockProvider struct {
	mu         sync.Mutex
	utterances []string
	next       int
	// SilenceFrames is how many silent 20 ms frames end an utterance.
	SilenceFrames int
}

func NewMockProvider(utterances ...string) *MockProvider {
	if len(utterances) == 0 {
		utterances = []string{"ik wil een afspraak maken"}
	}
	return &MockProvider{utterances: utterances, SilenceFrames: 25}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) nextUtterance() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := p.utterances[p.next%len(p.utterances)]
	p.next++
	return text
}

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, error) {
	return &mockSTTSession{provider: p, events: make(chan STTEvent, 64)}, nil
}

// Synthesize returns about 10 ms of tone per character so playback length
// follows the reply length.
func (p *MockProvider) Synthesize(ctx context.Context, text string, _ TTSSettings) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(strings.TrimSpace(text)) * 80
	return io.NopCloser(bytes.NewReader(mockTone(n))), nil
}

func mockTone(n int) []byte {
	pattern := []byte{0x00, 0x10, 0x20, 0x10, 0x00, 0x90, 0xA0, 0x90}
	out := make([]byte, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

type mockSTTSession struct {
	provider *MockProvider

	mu      sync.Mutex
	events  chan STTEvent
	closed  bool
	voiced  int
	silence int
	buf     []byte
}

func (s *mockSTTSession) Events() <-chan STTEvent { return s.events }

func (s *mockSTTSession) SendAudio(_ context.Context, mulaw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.buf = append(s.buf, mulaw...)
	for len(s.buf) >= audio.DefaultFrameBytes {
		frame := s.buf[:audio.DefaultFrameBytes]
		s.buf = s.buf[audio.DefaultFrameBytes:]
		s.observe(isSilent(frame))
	}
	return nil
}

func (s *mockSTTSession) observe(silent bool) {
	if !silent {
		if s.voiced == 0 {
			s.push(STTEvent{Type: STTEventSpeechStarted})
		}
		s.voiced++
		s.silence = 0
		return
	}
	if s.voiced == 0 {
		return
	}
	s.silence++
	if s.silence < s.provider.SilenceFrames {
		return
	}
	s.voiced, s.silence = 0, 0
	s.push(STTEvent{Type: STTEventFinal, Text: s.provider.nextUtterance(), Confidence: 0.9})
	s.push(STTEvent{Type: STTEventUtteranceEnd})
}

// push drops events when the reader fell behind; the channel is generous.
func (s *mockSTTSession) push(ev STTEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// isSilent reports whether a mu-law frame is mostly at the zero level.
func isSilent(frame []byte) bool {
	quiet := 0
	for _, b := range frame {
		// mu-law codes 0x7x and 0xFx are the smallest magnitudes.
		if b&0x70 == 0x70 {
			quiet++
		}
	}
	return quiet*10 >= len(frame)*9
}
