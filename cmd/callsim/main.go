// Command callsim places a synthetic phone call against the telephony media
// stream and reports how long the receptionist takes to start answering.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

type options struct {
	baseURL     string
	tenantID    string
	callerID    string
	secret      string
	turns       int
	realtime    float64
	bargeIn     bool
	bargeDelay  time.Duration
	turnTimeout time.Duration
	texts       []string
	jsonOut     bool
	verbose     bool
}

type previewRequest struct {
	Text string `json:"text"`
}

type audioClip struct {
	Text  string
	Mulaw []byte
}

var defaultUtterances = []string{
	"Ik wil graag een afspraak maken om te knippen.",
	"Morgen graag.",
	"Om tien uur.",
	"Mijn naam is Jan Peeters.",
	"Ja, dat klopt.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	rep, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
	if err := rep.write(os.Stdout, cfg.jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("callsim", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var bargeDelayMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voicedesk base URL")
	fs.StringVar(&cfg.tenantID, "tenant-id", "", "tenant the call is routed to")
	fs.StringVar(&cfg.callerID, "caller-id", "+32470000000", "caller phone number sent in the start message")
	fs.StringVar(&cfg.secret, "secret", "", "webhook secret for the stream and preview endpoints")
	fs.IntVar(&cfg.turns, "turns", 5, "number of caller utterances")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.BoolVar(&cfg.bargeIn, "barge-in", false, "start each utterance while the previous reply is still playing")
	fs.IntVar(&bargeDelayMS, "barge-delay-ms", 300, "delay after the first reply frame before barging in")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for a reply per turn")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.jsonOut, "json", false, "print the report as JSON")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.tenantID) == "" {
		return options{}, fmt.Errorf("tenant-id is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if bargeDelayMS < 0 {
		bargeDelayMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.bargeDelay = time.Duration(bargeDelayMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, progress io.Writer) (report, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	clips, err := synthClips(ctx, httpClient, cfg)
	if err != nil {
		return report{}, fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := streamURL(cfg)
	if err != nil {
		return report{}, fmt.Errorf("build ws URL: %w", err)
	}
	header := http.Header{}
	if cfg.secret != "" {
		header.Set("x-webhook-secret", cfg.secret)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return report{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	s := newCall(conn, cfg.realtime)
	readErr := make(chan error, 1)
	go s.readLoop(readErr)

	logf := func(format string, args ...any) {
		if cfg.verbose {
			fmt.Fprintf(progress, "callsim: "+format+"\n", args...)
		}
	}

	if err := s.start(cfg); err != nil {
		return report{}, err
	}
	logf("call started stream=%s tenant=%s", s.streamSID, cfg.tenantID)

	rep := report{Turns: make([]turnResult, 0, cfg.turns)}
	greeting, err := s.awaitFirstAudio(ctx, time.Now(), cfg.turnTimeout, readErr)
	if err != nil {
		return report{}, fmt.Errorf("greeting: %w", err)
	}
	rep.GreetingMS = ms(greeting)
	logf("greeting first audio after %.0f ms", rep.GreetingMS)

	for i := 0; i < cfg.turns; i++ {
		clip := clips[i%len(clips)]
		if cfg.bargeIn {
			if err := s.sleepWithSilence(ctx, cfg.bargeDelay, readErr); err != nil {
				return report{}, err
			}
		} else if err := s.awaitIdle(ctx, cfg.turnTimeout, readErr); err != nil {
			return report{}, fmt.Errorf("turn %d await idle: %w", i+1, err)
		}

		logf("turn %d/%d text=%q bytes=%d", i+1, cfg.turns, clip.Text, len(clip.Mulaw))
		if err := s.sendClip(ctx, clip.Mulaw); err != nil {
			return report{}, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		latency, err := s.awaitFirstAudio(ctx, time.Now(), cfg.turnTimeout, readErr)
		if err != nil {
			return report{}, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		rep.Turns = append(rep.Turns, turnResult{Text: clip.Text, FirstAudioMS: ms(latency)})
		logf("turn %d first audio after %.0f ms", i+1, ms(latency))
	}

	if !cfg.bargeIn {
		_ = s.awaitIdle(ctx, cfg.turnTimeout, readErr)
	}
	_ = s.write(protocol.Stop{Event: protocol.EventStop, StreamSID: s.streamSID, Stop: protocol.StopPayload{CallSID: s.callSID}})
	rep.Clears = s.clearCount()
	rep.summarize()
	return rep, nil
}

func synthClips(ctx context.Context, client *http.Client, cfg options) ([]audioClip, error) {
	cache := make(map[string]audioClip, len(cfg.texts))
	out := make([]audioClip, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, cfg, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

func synthClip(ctx context.Context, client *http.Client, cfg options, text string) (audioClip, error) {
	payload, err := json.Marshal(previewRequest{Text: text})
	if err != nil {
		return audioClip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/tts/preview", bytes.NewReader(payload))
	if err != nil {
		return audioClip{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.secret != "" {
		req.Header.Set("x-webhook-secret", cfg.secret)
	}

	res, err := client.Do(req)
	if err != nil {
		return audioClip{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return audioClip{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audioClip{}, fmt.Errorf("preview %q HTTP %d: %s", text, res.StatusCode, strings.TrimSpace(string(body)))
	}
	mulaw, _, err := audio.DecodeMulawWAV(body)
	if err != nil {
		return audioClip{}, fmt.Errorf("decode preview wav for %q: %w", text, err)
	}
	return audioClip{Text: text, Mulaw: mulaw}, nil
}

func streamURL(cfg options) (string, error) {
	u, err := url.Parse(cfg.baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/telephony/stream"
	q := u.Query()
	q.Set("tenant_id", cfg.tenantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type eventKind int

const (
	kindMedia eventKind = iota
	kindMarkEcho
	kindClear
)

type simEvent struct {
	kind eventKind
	at   time.Time
}

// call plays the telephony side of one stream. It keeps a playout clock so
// marks are echoed only once the audio queued before them would have played,
// as the real gateway does.
type call struct {
	conn      *websocket.Conn
	realtime  float64
	streamSID string
	callSID   string
	events    chan simEvent

	wmu sync.Mutex

	mu         sync.Mutex
	playoutEnd time.Time
	pending    map[string]*time.Timer
	clears     int
}

func newCall(conn *websocket.Conn, realtime float64) *call {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &call{
		conn:      conn,
		realtime:  realtime,
		streamSID: "MZ" + id,
		callSID:   "CA" + id,
		events:    make(chan simEvent, 4096),
		pending:   make(map[string]*time.Timer),
	}
}

func (c *call) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *call) start(cfg options) error {
	if err := c.write(protocol.Connected{Event: protocol.EventConnected, Protocol: "Call", Version: "1.0.0"}); err != nil {
		return fmt.Errorf("send connected: %w", err)
	}
	return c.write(protocol.Start{
		Event:          protocol.EventStart,
		SequenceNumber: "1",
		StreamSID:      c.streamSID,
		Start: protocol.StartPayload{
			StreamSID: c.streamSID,
			CallSID:   c.callSID,
			Tracks:    []string{"inbound"},
			CustomParameters: map[string]string{
				"tenant_id": cfg.tenantID,
				"caller_id": cfg.callerID,
			},
			MediaFormat: protocol.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})
}

func (c *call) emit(ev simEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *call) readLoop(errCh chan<- error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Event {
		case protocol.EventMedia:
			var m protocol.Media
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			frame, err := m.Audio()
			if err != nil {
				continue
			}
			c.queuePlayout(len(frame))
			c.emit(simEvent{kind: kindMedia, at: time.Now()})
		case protocol.EventMark:
			var m protocol.Mark
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			c.scheduleEcho(m.Mark.Name)
		case protocol.EventClear:
			c.clearPlayout()
			c.emit(simEvent{kind: kindClear, at: time.Now()})
		}
	}
}

func (c *call) playDuration(n int) time.Duration {
	return time.Duration(float64(time.Duration(n)*time.Second/8000) / c.realtime)
}

func (c *call) queuePlayout(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.playoutEnd.Before(now) {
		c.playoutEnd = now
	}
	c.playoutEnd = c.playoutEnd.Add(c.playDuration(n))
}

func (c *call) scheduleEcho(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay := time.Until(c.playoutEnd)
	if delay < 0 {
		delay = 0
	}
	c.pending[name] = time.AfterFunc(delay, func() { c.echoMark(name) })
}

func (c *call) echoMark(name string) {
	c.mu.Lock()
	delete(c.pending, name)
	c.mu.Unlock()
	if err := c.write(protocol.NewMark(c.streamSID, name)); err == nil {
		c.emit(simEvent{kind: kindMarkEcho, at: time.Now()})
	}
}

// clearPlayout drops queued audio and echoes the cleared marks right away.
func (c *call) clearPlayout() {
	c.mu.Lock()
	c.clears++
	c.playoutEnd = time.Now()
	var flushed []string
	for name, t := range c.pending {
		if t.Stop() {
			flushed = append(flushed, name)
		}
	}
	c.mu.Unlock()
	for _, name := range flushed {
		c.echoMark(name)
	}
}

func (c *call) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) == 0 && !time.Now().Before(c.playoutEnd)
}

func (c *call) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

func (c *call) sendFrame(frame []byte) error {
	return c.write(protocol.NewMedia(c.streamSID, frame))
}

func (c *call) frameInterval() time.Duration {
	return c.playDuration(audio.DefaultFrameBytes)
}

// sendClip streams the utterance in 20 ms frames at the configured pace.
func (c *call) sendClip(ctx context.Context, mulaw []byte) error {
	framer := audio.NewFramer(audio.DefaultFrameBytes)
	frames := framer.Push(mulaw)
	if rest := framer.Flush(); len(rest) > 0 {
		padded := bytes.Repeat([]byte{audio.MulawSilence}, audio.DefaultFrameBytes)
		copy(padded, rest)
		frames = append(frames, padded)
	}
	ticker := time.NewTicker(c.frameInterval())
	defer ticker.Stop()
	for _, frame := range frames {
		if err := c.sendFrame(frame); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// awaitFirstAudio keeps the line alive with silence until a media frame
// newer than since arrives, and returns the wait.
func (c *call) awaitFirstAudio(ctx context.Context, since time.Time, timeout time.Duration, readErr <-chan error) (time.Duration, error) {
	var got time.Duration
	err := c.pump(ctx, timeout, readErr, func(ev simEvent) bool {
		if ev.kind == kindMedia && ev.at.After(since) {
			got = ev.at.Sub(since)
			return true
		}
		return false
	}, nil)
	return got, err
}

// awaitIdle waits until the reply has played out and every mark is echoed.
func (c *call) awaitIdle(ctx context.Context, timeout time.Duration, readErr <-chan error) error {
	return c.pump(ctx, timeout, readErr, nil, c.idle)
}

func (c *call) sleepWithSilence(ctx context.Context, d time.Duration, readErr <-chan error) error {
	deadline := time.Now().Add(d)
	err := c.pump(ctx, d+time.Second, readErr, nil, func() bool { return !time.Now().Before(deadline) })
	return err
}

// pump sends a silence frame per frame interval and feeds events to onEvent
// until onEvent or cond reports done.
func (c *call) pump(ctx context.Context, timeout time.Duration, readErr <-chan error, onEvent func(simEvent) bool, cond func() bool) error {
	silence := bytes.Repeat([]byte{audio.MulawSilence}, audio.DefaultFrameBytes)
	ticker := time.NewTicker(c.frameInterval())
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if cond != nil && cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("stream closed: %w", err)
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		case ev := <-c.events:
			if onEvent != nil && onEvent(ev) {
				return nil
			}
		case <-ticker.C:
			if err := c.sendFrame(silence); err != nil {
				return err
			}
		}
	}
}

type turnResult struct {
	Text         string  `json:"text"`
	FirstAudioMS float64 `json:"first_audio_ms"`
}

type report struct {
	GreetingMS float64      `json:"greeting_first_audio_ms"`
	Turns      []turnResult `json:"turns"`
	P50MS      float64      `json:"p50_first_audio_ms"`
	P95MS      float64      `json:"p95_first_audio_ms"`
	MaxMS      float64      `json:"max_first_audio_ms"`
	Clears     int          `json:"clears"`
}

func (r *report) summarize() {
	if len(r.Turns) == 0 {
		return
	}
	values := make([]float64, 0, len(r.Turns))
	for _, t := range r.Turns {
		values = append(values, t.FirstAudioMS)
	}
	sort.Float64s(values)
	r.P50MS = percentile(values, 0.50)
	r.P95MS = percentile(values, 0.95)
	r.MaxMS = values[len(values)-1]
}

func (r report) write(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "greeting first audio: %.0f ms\n", r.GreetingMS)
	for i, t := range r.Turns {
		fmt.Fprintf(w, "turn %d: %.0f ms  %q\n", i+1, t.FirstAudioMS, t.Text)
	}
	_, err := fmt.Fprintf(w, "p50=%.0f ms p95=%.0f ms max=%.0f ms clears=%d\n", r.P50MS, r.P95MS, r.MaxMS, r.Clears)
	return err
}

// percentile uses nearest-rank on sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
