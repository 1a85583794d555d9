package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/ent0n29/voicedesk/internal/reliability"
)

type GoogleConfig struct {
	Language string
	Model    string
}

// GoogleProvider streams audio to Cloud Speech-to-Text. It relies on
// Application Default Credentials.
type GoogleProvider struct {
	cfg    GoogleConfig
	client *speech.Client
}

func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "nl-NL"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "phone_call"
	}
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleProvider{cfg: cfg, client: client}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Close() error { return p.client.Close() }

func (p *GoogleProvider) StartSession(ctx context.Context, _ string) (STTSession, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start streaming recognize: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: googleStreamingConfig(p.cfg),
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}

	s := &googleSession{stream: stream, cancel: cancel, events: make(chan STTEvent, 256)}
	go s.recvLoop(streamCtx)
	return s, nil
}

func googleStreamingConfig(cfg GoogleConfig) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_MULAW,
			SampleRateHertz:            8000,
			AudioChannelCount:          1,
			LanguageCode:               cfg.Language,
			Model:                      cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		InterimResults:            true,
		EnableVoiceActivityEvents: true,
	}
}

type googleSession struct {
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	sendMu    sync.Mutex
	closeOnce sync.Once
	events    chan STTEvent
}

func (s *googleSession) Events() <-chan STTEvent { return s.events }

func (s *googleSession) SendAudio(_ context.Context, mulaw []byte) error {
	if len(mulaw) == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: mulaw},
	})
}

func (s *googleSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		err = s.stream.CloseSend()
		s.sendMu.Unlock()
		s.cancel()
	})
	return err
}

func (s *googleSession) recvLoop(ctx context.Context) {
	defer close(s.events)
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.emit(ctx, STTEvent{Type: STTEventError, Code: "recv", Detail: err.Error(), Retryable: reliability.IsRetryableStreamCode("recv")})
			}
			return
		}
		for _, ev := range googleEvents(resp) {
			s.emit(ctx, ev)
		}
	}
}

// googleEvents maps one response to events. Google finals are already
// utterance-level, so each final is followed by an utterance end.
func googleEvents(resp *speechpb.StreamingRecognizeResponse) []STTEvent {
	var out []STTEvent
	switch resp.GetSpeechEventType() {
	case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
		out = append(out, STTEvent{Type: STTEventSpeechStarted})
	case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END:
		out = append(out, STTEvent{Type: STTEventUtteranceEnd})
	}
	if st := resp.GetError(); st != nil {
		code := fmt.Sprintf("grpc_%d", st.GetCode())
		out = append(out, STTEvent{Type: STTEventError, Code: code, Detail: st.GetMessage(), Retryable: reliability.IsRetryableStreamCode(code)})
	}
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		if result.GetIsFinal() {
			out = append(out,
				STTEvent{Type: STTEventFinal, Text: text, Confidence: float64(alts[0].GetConfidence())},
				STTEvent{Type: STTEventUtteranceEnd},
			)
			continue
		}
		out = append(out, STTEvent{Type: STTEventPartial, Text: text, Confidence: float64(result.GetStability())})
	}
	return out
}

func (s *googleSession) emit(ctx context.Context, ev STTEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
