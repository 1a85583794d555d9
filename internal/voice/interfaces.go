// Package voice runs telephony calls: it streams caller audio into a
// speech-to-text provider, hands finished utterances to the dialogue engine
// and streams synthesized replies back as fixed-size mu-law frames.
package voice

import (
	"context"
	"fmt"
	"io"

	"github.com/ent0n29/voicedesk/internal/protocol"
)

type STTEventType string

const (
	STTEventPartial       STTEventType = "partial"
	STTEventFinal         STTEventType = "final"
	STTEventUtteranceEnd  STTEventType = "utterance_end"
	STTEventSpeechStarted STTEventType = "speech_started"
	STTEventError         STTEventType = "error"
)

type STTEvent struct {
	Type       STTEventType
	Text       string
	Confidence float64
	Code       string
	Detail     string
	Retryable  bool
}

// STTSession is one streaming recognition session. Events is closed when the
// session ends, whichever side ended it.
type STTSession interface {
	SendAudio(ctx context.Context, mulaw []byte) error
	Events() <-chan STTEvent
	Close() error
}

type STTProvider interface {
	Name() string
	StartSession(ctx context.Context, callID string) (STTSession, error)
}

type TTSSettings struct {
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
}

// TTSProvider synthesizes text into 8 kHz mu-law audio. The returned reader
// streams bytes as they arrive; cancelling ctx aborts it.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text string, settings TTSSettings) (io.ReadCloser, error)
}

// TurnProcessor answers one caller utterance. The in-process engine and the
// HTTP business-logic client both implement it.
type TurnProcessor interface {
	HandleTurn(ctx context.Context, req protocol.TurnRequest) (protocol.TurnResponse, error)
}

// ProviderError is a failed provider request.
type ProviderError struct {
	Provider  string
	Status    int
	Detail    string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
}
