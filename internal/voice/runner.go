package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/policy"
	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/session"
)

// Conn is the part of *websocket.Conn a call uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type CallConfig struct {
	STT      STTProvider
	TTS      TTSProvider
	Voice    TTSSettings
	Turns    TurnProcessor
	Registry *session.Registry
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// FrameBytes is the outbound media frame size; 160 bytes is 20 ms.
	FrameBytes int
	Now        func() time.Time
}

// CallParams come from the stream URL and are overridden by the start
// message's custom parameters.
type CallParams struct {
	TenantID string
	CallerID string
}

// CallHandler serves telephony media streams, one goroutine per call.
type CallHandler struct {
	cfg CallConfig
}

func NewCallHandler(cfg CallConfig) *CallHandler {
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = audio.DefaultFrameBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CallHandler{cfg: cfg}
}

// Serve runs one call until the stream stops, the connection drops or ctx
// ends. It closes conn before returning.
func (h *CallHandler) Serve(ctx context.Context, conn Conn, params CallParams) error {
	ctx, cancel := context.WithCancel(ctx)
	logger := logging.From(ctx)
	if logger == slog.Default() {
		logger = h.cfg.Logger
	}
	c := &callRun{
		cfg:    h.cfg,
		conn:   conn,
		state:  newCallState(params.TenantID, params.CallerID),
		events: make(chan event, 512),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	return c.run()
}

type callRun struct {
	cfg    CallConfig
	conn   Conn
	state  *callState
	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	stt          STTSession
	sttFailed    bool
	playCancel   context.CancelFunc
	registryID   string
	startedAt    time.Time
	closeReason  string
	closeErr     error
	helpers      sync.WaitGroup
	turnsHandled int
}

func (c *callRun) run() error {
	defer c.teardown()
	go c.readLoop(c.logger)

	for {
		select {
		case <-c.ctx.Done():
			if c.closeReason == "" {
				c.closeReason = "cancelled"
			}
			return c.closeErr
		case ev := <-c.events:
			for _, eff := range c.state.apply(c.cfg.Now(), ev) {
				c.execute(eff)
			}
			if c.state.phase == phaseClosed || c.closeReason != "" {
				return c.closeErr
			}
		}
	}
}

// post hands an event to the call goroutine. It reports false once the call is over.
func (c *callRun) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *callRun) readLoop(logger *slog.Logger) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.post(connClosedEvent{err: err})
			return
		}
		msg, err := protocol.ParseInbound(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnsupportedEvent) {
				logger.Debug("dropping malformed telephony message", "error", err)
			}
			c.cfg.Metrics.ObserveWSMessage("in", "invalid")
			continue
		}
		c.cfg.Metrics.ObserveWSMessage("in", inboundType(msg))
		if !c.post(inboundEvent{msg: msg}) {
			return
		}
	}
}

func (c *callRun) execute(eff effect) {
	switch e := eff.(type) {
	case sendEffect:
		c.send(e.msg)
	case registerEffect:
		c.register()
	case startSTTEffect:
		c.startSTT()
	case forwardAudioEffect:
		c.forwardAudio(e.audio)
	case runTurnEffect:
		c.runTurn(e.req)
	case startPlaybackEffect:
		c.startPlayback(e.gen, e.text)
	case cancelPlaybackEffect:
		c.cancelPlayback()
	case bargeInEffect:
		c.cfg.Metrics.ObserveBargeIn()
		if c.registryID != "" {
			_ = c.cfg.Registry.Interrupt(c.registryID)
		}
		c.logger.Info("caller barged in")
	case turnRecordedEffect:
		c.turnsHandled++
		if c.registryID != "" {
			_ = c.cfg.Registry.RecordTurn(c.registryID, e.state)
		}
	case firstAudioEffect:
		c.cfg.Metrics.ObserveFirstAudioLatency(e.latency)
	case providerErrorEffect:
		c.cfg.Metrics.ObserveProviderError(e.provider, e.code)
		c.logger.Warn("provider error", "provider", e.provider, "code", e.code, "retryable", e.retryable, "detail", e.detail)
	case closeEffect:
		c.closeReason = e.reason
	}
}

func (c *callRun) send(msg any) {
	if c.closeReason != "" {
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("telephony write failed", "error", err)
		c.closeReason = "write_failed"
		c.closeErr = err
		return
	}
	c.cfg.Metrics.ObserveWSMessage("out", outboundType(msg))
}

func (c *callRun) register() {
	c.startedAt = c.cfg.Now()
	s := c.state
	c.logger = c.logger.With("call_sid", s.callSID, "stream_sid", s.streamSID, "tenant_id", s.tenantID)
	if c.cfg.Registry != nil {
		call := c.cfg.Registry.Register(session.RegisterRequest{
			CallSID:   s.callSID,
			StreamSID: s.streamSID,
			TenantID:  s.tenantID,
			CallerID:  policy.MaskPhone(s.callerID),
			Cancel:    c.cancel,
		})
		c.registryID = call.ID
		c.logger = c.logger.With("registry_id", call.ID)
	}
	c.cfg.Metrics.CallStarted()
	c.logger.Info("call started", "caller", policy.MaskPhone(s.callerID))
}

func (c *callRun) startSTT() {
	sess, err := c.cfg.STT.StartSession(c.ctx, c.state.conversationID())
	if err != nil {
		c.sttFailed = true
		c.helpers.Add(1)
		go func() {
			defer c.helpers.Done()
			c.post(sttClosedEvent{err: err})
		}()
		return
	}
	c.stt = sess
	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		for ev := range sess.Events() {
			if !c.post(sttEvent{ev: ev}) {
				return
			}
		}
		c.post(sttClosedEvent{})
	}()
}

func (c *callRun) forwardAudio(pcm []byte) {
	if c.stt == nil {
		return
	}
	if c.registryID != "" {
		_ = c.cfg.Registry.Touch(c.registryID)
	}
	if err := c.stt.SendAudio(c.ctx, pcm); err != nil && !c.sttFailed {
		c.sttFailed = true
		c.cfg.Metrics.ObserveProviderError(c.cfg.STT.Name(), "send")
		c.logger.Warn("stt send failed", "error", err)
	}
}

func (c *callRun) runTurn(req protocol.TurnRequest) {
	ctx := logging.With(c.ctx, c.logger)
	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		started := c.cfg.Now()
		resp, err := c.cfg.Turns.HandleTurn(ctx, req)
		c.cfg.Metrics.ObserveStage("utterance_to_turn_result", c.cfg.Now().Sub(started))
		c.post(turnDoneEvent{transcript: req.Transcript, resp: resp, err: err})
	}()
}

func (c *callRun) startPlayback(gen uint64, text string) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.playCancel = cancel
	if c.registryID != "" {
		_ = c.cfg.Registry.SetSpeaking(c.registryID, true)
	}
	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		defer cancel()
		c.playback(ctx, gen, text)
	}()
}

func (c *callRun) cancelPlayback() {
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	if c.registryID != "" {
		_ = c.cfg.Registry.SetSpeaking(c.registryID, false)
	}
}

// playback synthesizes text and posts frames to the call goroutine, which
// drops them if this generation was cancelled in the meantime.
func (c *callRun) playback(ctx context.Context, gen uint64, text string) {
	started := c.cfg.Now()
	body, err := c.cfg.TTS.Synthesize(ctx, text, c.cfg.Voice)
	if err != nil {
		if ctx.Err() == nil {
			c.post(playbackDoneEvent{gen: gen, err: err})
		}
		return
	}
	defer body.Close()

	framer := audio.NewFramer(c.cfg.FrameBytes)
	buf := make([]byte, 4096)
	first := true
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if first {
				first = false
				c.cfg.Metrics.ObserveStage("tts_first_byte", c.cfg.Now().Sub(started))
			}
			if frames := framer.Push(buf[:n]); len(frames) > 0 {
				if !c.post(playbackFramesEvent{gen: gen, frames: frames}) {
					return
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctx.Err() == nil {
				c.post(playbackDoneEvent{gen: gen, err: readErr})
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	if rest := framer.Flush(); len(rest) > 0 {
		if !c.post(playbackFramesEvent{gen: gen, frames: [][]byte{rest}}) {
			return
		}
	}
	c.post(playbackDoneEvent{gen: gen})
}

func (c *callRun) teardown() {
	c.cancelPlayback()
	if c.stt != nil {
		if err := c.stt.Close(); err != nil {
			c.logger.Debug("stt close failed", "error", err)
		}
	}
	c.cancel()
	_ = c.conn.Close()
	c.helpers.Wait()

	reason := c.closeReason
	if reason == "" {
		reason = "cancelled"
	}
	if c.registryID != "" {
		_, _ = c.cfg.Registry.End(c.registryID, reason)
	}
	if !c.startedAt.IsZero() {
		c.cfg.Metrics.CallEnded(reason)
		c.logger.Info("call ended", "reason", reason, "turns", c.turnsHandled, "duration_ms", c.cfg.Now().Sub(c.startedAt).Milliseconds())
	}
}

func inboundType(msg any) string {
	switch msg.(type) {
	case protocol.Connected:
		return string(protocol.EventConnected)
	case protocol.Start:
		return string(protocol.EventStart)
	case protocol.Media:
		return string(protocol.EventMedia)
	case protocol.Mark:
		return string(protocol.EventMark)
	case protocol.Stop:
		return string(protocol.EventStop)
	default:
		return "other"
	}
}

func outboundType(msg any) string {
	switch msg.(type) {
	case protocol.Media:
		return string(protocol.EventMedia)
	case protocol.Mark:
		return string(protocol.EventMark)
	case protocol.Clear:
		return string(protocol.EventClear)
	default:
		return "other"
	}
}
