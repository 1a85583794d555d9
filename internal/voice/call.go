package voice

import (
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

// A call's state changes only through callState.apply, called from the
// call's own goroutine. Everything that touches the network is returned as
// an effect and executed by the runtime in callRun.

type callPhase int

const (
	phaseIdle callPhase = iota
	phaseStreaming
	phaseClosed
)

const markPrefix = "tts_"

type event interface{ callEvent() }

type inboundEvent struct{ msg any }

type connClosedEvent struct{ err error }

type sttEvent struct{ ev STTEvent }

type sttClosedEvent struct{ err error }

type turnDoneEvent struct {
	transcript string
	resp       protocol.TurnResponse
	err        error
}

type playbackFramesEvent struct {
	gen    uint64
	frames [][]byte
}

type playbackDoneEvent struct {
	gen uint64
	err error
}

func (inboundEvent) callEvent()        {}
func (connClosedEvent) callEvent()     {}
func (sttEvent) callEvent()            {}
func (sttClosedEvent) callEvent()      {}
func (turnDoneEvent) callEvent()       {}
func (playbackFramesEvent) callEvent() {}
func (playbackDoneEvent) callEvent()   {}

type effect interface{ callEffect() }

type sendEffect struct{ msg any }

type registerEffect struct{}

type startSTTEffect struct{}

type forwardAudioEffect struct{ audio []byte }

type runTurnEffect struct{ req protocol.TurnRequest }

type startPlaybackEffect struct {
	gen  uint64
	text string
}

type cancelPlaybackEffect struct{}

type bargeInEffect struct{}

type turnRecordedEffect struct{ state string }

type firstAudioEffect struct{ latency time.Duration }

type providerErrorEffect struct {
	provider  string
	code      string
	detail    string
	retryable bool
}

type closeEffect struct{ reason string }

func (sendEffect) callEffect()           {}
func (registerEffect) callEffect()       {}
func (startSTTEffect) callEffect()       {}
func (forwardAudioEffect) callEffect()   {}
func (runTurnEffect) callEffect()        {}
func (startPlaybackEffect) callEffect()  {}
func (cancelPlaybackEffect) callEffect() {}
func (bargeInEffect) callEffect()        {}
func (turnRecordedEffect) callEffect()   {}
func (firstAudioEffect) callEffect()     {}
func (providerErrorEffect) callEffect()  {}
func (closeEffect) callEffect()          {}

type callState struct {
	phase     callPhase
	tenantID  string
	callerID  string
	callSID   string
	streamSID string
	history   []protocol.HistoryItem

	// finals buffers final transcript segments until the utterance ends.
	finals       []string
	turnInFlight bool
	queued       string
	utteranceAt  time.Time

	playbackGen  uint64
	playing      bool
	audioSent    bool
	pendingMarks []string
	markSeq      int
	endAfterPlay bool
}

func newCallState(tenantID, callerID string) *callState {
	return &callState{tenantID: tenantID, callerID: callerID}
}

// ttsPlaying is true while audio is being produced or Twilio has not yet
// confirmed the end of what was sent.
func (s *callState) ttsPlaying() bool {
	return s.playing || len(s.pendingMarks) > 0
}

func (s *callState) conversationID() string {
	if s.callSID != "" {
		return s.callSID
	}
	return s.streamSID
}

func (s *callState) apply(now time.Time, ev event) []effect {
	if s.phase == phaseClosed {
		return nil
	}
	switch ev := ev.(type) {
	case inboundEvent:
		return s.applyInbound(now, ev.msg)
	case connClosedEvent:
		return s.close("disconnected")
	case sttEvent:
		return s.applyTranscript(now, ev.ev)
	case sttClosedEvent:
		if s.phase != phaseStreaming {
			return nil
		}
		effs := []effect{}
		if ev.err != nil {
			effs = append(effs, providerErrorEffect{provider: "stt", code: "start", detail: ev.err.Error()})
		}
		return append(effs, s.close("stt_closed")...)
	case turnDoneEvent:
		return s.applyTurnDone(now, ev)
	case playbackFramesEvent:
		return s.applyFrames(now, ev)
	case playbackDoneEvent:
		return s.applyPlaybackDone(ev)
	}
	return nil
}

func (s *callState) applyInbound(now time.Time, msg any) []effect {
	switch m := msg.(type) {
	case protocol.Start:
		if s.phase != phaseIdle {
			return nil
		}
		s.phase = phaseStreaming
		s.streamSID = m.StreamSID
		s.callSID = m.Start.CallSID
		for _, key := range []string{"tenant_id", "business_id"} {
			if v := strings.TrimSpace(m.CustomParameter(key)); v != "" {
				s.tenantID = v
				break
			}
		}
		for _, key := range []string{"caller_id", "from"} {
			if v := strings.TrimSpace(m.CustomParameter(key)); v != "" {
				s.callerID = v
				break
			}
		}
		return []effect{registerEffect{}, startSTTEffect{}, s.startTurn(now, conversation.GreetingSentinel)}
	case protocol.Media:
		if s.phase != phaseStreaming {
			return nil
		}
		pcm, err := m.Audio()
		if err != nil || len(pcm) == 0 {
			return nil
		}
		return []effect{forwardAudioEffect{audio: pcm}}
	case protocol.Mark:
		s.ackMark(m.Mark.Name)
		return s.maybeEnd()
	case protocol.Stop:
		return s.close("stop")
	}
	return nil
}

func (s *callState) applyTranscript(now time.Time, ev STTEvent) []effect {
	if s.phase != phaseStreaming {
		return nil
	}
	switch ev.Type {
	case STTEventFinal:
		if text := strings.TrimSpace(ev.Text); text != "" {
			s.finals = append(s.finals, text)
		}
		return nil
	case STTEventSpeechStarted:
		if s.ttsPlaying() {
			return s.bargeIn()
		}
		return nil
	case STTEventUtteranceEnd:
		if len(s.finals) == 0 {
			return nil
		}
		utterance := strings.Join(s.finals, " ")
		s.finals = nil
		var effs []effect
		if s.ttsPlaying() {
			effs = append(effs, s.bargeIn()...)
			if s.phase == phaseClosed {
				return effs
			}
		}
		if s.turnInFlight {
			s.queued = strings.TrimSpace(s.queued + " " + utterance)
			return effs
		}
		return append(effs, s.startTurn(now, utterance))
	case STTEventError:
		return []effect{providerErrorEffect{provider: "stt", code: ev.Code, detail: ev.Detail, retryable: ev.Retryable}}
	}
	return nil
}

func (s *callState) applyTurnDone(now time.Time, ev turnDoneEvent) []effect {
	s.turnInFlight = false
	var effs []effect

	reply := strings.TrimSpace(ev.resp.Response)
	if ev.err != nil || reply == "" {
		detail := "empty response"
		if ev.err != nil {
			detail = ev.err.Error()
		}
		effs = append(effs, providerErrorEffect{provider: "turn", code: "failed", detail: detail})
		if reply == "" {
			reply = dialogue.Render(dialogue.RespTechnicalIssue, dialogue.RenderInput{})
		}
	}

	if ev.transcript != conversation.GreetingSentinel {
		s.history = append(s.history, protocol.HistoryItem{Role: conversation.RoleUser, Content: ev.transcript})
	}
	s.history = append(s.history, protocol.HistoryItem{Role: conversation.RoleAssistant, Content: reply})
	if ev.resp.State != "" {
		effs = append(effs, turnRecordedEffect{state: ev.resp.State})
	}

	effs = append(effs, s.startPlayback(reply)...)
	if ev.resp.EndCall {
		s.endAfterPlay = true
		s.queued = ""
		return effs
	}
	if s.queued != "" {
		next := s.queued
		s.queued = ""
		effs = append(effs, s.startTurn(now, next))
	}
	return effs
}

func (s *callState) applyFrames(now time.Time, ev playbackFramesEvent) []effect {
	if !s.playing || ev.gen != s.playbackGen {
		return nil
	}
	effs := make([]effect, 0, len(ev.frames)+1)
	if !s.audioSent {
		s.audioSent = true
		if !s.utteranceAt.IsZero() {
			effs = append(effs, firstAudioEffect{latency: now.Sub(s.utteranceAt)})
		}
	}
	for _, frame := range ev.frames {
		effs = append(effs, sendEffect{msg: protocol.NewMedia(s.streamSID, frame)})
	}
	return effs
}

func (s *callState) applyPlaybackDone(ev playbackDoneEvent) []effect {
	if !s.playing || ev.gen != s.playbackGen {
		return nil
	}
	s.playing = false
	var effs []effect
	if ev.err != nil {
		effs = append(effs, providerErrorEffect{provider: "tts", code: "synthesize", detail: ev.err.Error()})
	}
	if s.audioSent {
		s.markSeq++
		name := markPrefix + strconv.Itoa(s.markSeq)
		s.pendingMarks = append(s.pendingMarks, name)
		effs = append(effs, sendEffect{msg: protocol.NewMark(s.streamSID, name)})
	}
	return append(effs, s.maybeEnd()...)
}

func (s *callState) startTurn(now time.Time, transcript string) effect {
	s.turnInFlight = true
	s.utteranceAt = now
	history := make([]protocol.HistoryItem, len(s.history))
	copy(history, s.history)
	return runTurnEffect{req: protocol.TurnRequest{
		BusinessID:     s.tenantID,
		Transcript:     transcript,
		ConversationID: s.conversationID(),
		CallerID:       s.callerID,
		History:        history,
		Channel:        "phone",
	}}
}

// startPlayback supersedes any running playback without clearing audio
// already queued at the telephony side.
func (s *callState) startPlayback(text string) []effect {
	var effs []effect
	if s.playing {
		effs = append(effs, cancelPlaybackEffect{})
	}
	s.playbackGen++
	s.playing = true
	s.audioSent = false
	return append(effs, startPlaybackEffect{gen: s.playbackGen, text: text})
}

// bargeIn stops playback: one clear, pending marks forgotten so their late
// echoes cannot mark the call as playing again.
func (s *callState) bargeIn() []effect {
	var effs []effect
	if s.playing {
		effs = append(effs, cancelPlaybackEffect{})
	}
	s.playing = false
	s.pendingMarks = nil
	effs = append(effs, sendEffect{msg: protocol.NewClear(s.streamSID)}, bargeInEffect{})
	if s.endAfterPlay {
		effs = append(effs, s.close("completed")...)
	}
	return effs
}

func (s *callState) ackMark(name string) {
	for i, pending := range s.pendingMarks {
		if pending == name {
			s.pendingMarks = append(s.pendingMarks[:i], s.pendingMarks[i+1:]...)
			return
		}
	}
}

func (s *callState) maybeEnd() []effect {
	if s.endAfterPlay && !s.ttsPlaying() {
		return s.close("completed")
	}
	return nil
}

func (s *callState) close(reason string) []effect {
	if s.phase == phaseClosed {
		return nil
	}
	var effs []effect
	if s.playing {
		effs = append(effs, cancelPlaybackEffect{})
	}
	s.phase = phaseClosed
	s.playing = false
	s.pendingMarks = nil
	return append(effs, closeEffect{reason: reason})
}
