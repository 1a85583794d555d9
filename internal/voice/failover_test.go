package voice

import (
	"context"
	"errors"
	"testing"
)

func TestFailoverSTTFallsBackPerCall(t *testing.T) {
	ctx := context.Background()
	down := true
	primary := &stubSTTProvider{
		name: "deepgram",
		startSession: func(context.Context, string) (STTSession, error) {
			if down {
				return nil, &ProviderError{Provider: "deepgram", Status: 503, Retryable: true}
			}
			return &stubSTTSession{}, nil
		},
	}
	fallback := &stubSTTProvider{
		name: "google",
		startSession: func(context.Context, string) (STTSession, error) {
			return &stubSTTSession{}, nil
		},
	}
	stt := NewFailoverSTT(primary, fallback)

	if _, err := stt.StartSession(ctx, "call-1"); err != nil {
		t.Fatalf("StartSession() unexpected error = %v", err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}

	down = false
	if _, err := stt.StartSession(ctx, "call-2"); err != nil {
		t.Fatalf("StartSession() unexpected error = %v", err)
	}
	if primary.calls != 2 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want primary tried again and fallback untouched", primary.calls, fallback.calls)
	}
	if got := stt.Name(); got != "deepgram+google" {
		t.Fatalf("Name() = %q", got)
	}
}

func TestFailoverSTTSkipsFallbackWhenCallIsGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &stubSTTProvider{
		startSession: func(context.Context, string) (STTSession, error) {
			cancel()
			return nil, context.Canceled
		},
	}
	fallback := &stubSTTProvider{
		startSession: func(context.Context, string) (STTSession, error) {
			return &stubSTTSession{}, nil
		},
	}

	if _, err := NewFailoverSTT(primary, fallback).StartSession(ctx, "call-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("StartSession() error = %v, want context.Canceled", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverSTTReturnsCombinedErrorWhenBothFail(t *testing.T) {
	primaryErr := errors.New("primary down")
	fallbackErr := errors.New("fallback down")
	primary := &stubSTTProvider{
		startSession: func(context.Context, string) (STTSession, error) { return nil, primaryErr },
	}
	fallback := &stubSTTProvider{
		startSession: func(context.Context, string) (STTSession, error) { return nil, fallbackErr },
	}

	_, err := NewFailoverSTT(primary, fallback).StartSession(context.Background(), "call-1")
	if !errors.Is(err, fallbackErr) {
		t.Fatalf("StartSession() error = %v, want wrapped fallback error", err)
	}
}

type stubSTTProvider struct {
	name         string
	calls        int
	startSession func(ctx context.Context, callID string) (STTSession, error)
}

func (p *stubSTTProvider) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func (p *stubSTTProvider) StartSession(ctx context.Context, callID string) (STTSession, error) {
	p.calls++
	return p.startSession(ctx, callID)
}

type stubSTTSession struct{}

func (s *stubSTTSession) SendAudio(context.Context, []byte) error { return nil }
func (s *stubSTTSession) Events() <-chan STTEvent                 { return make(chan STTEvent) }
func (s *stubSTTSession) Close() error                            { return nil }
