package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/voicedesk/internal/reliability"
	"github.com/gorilla/websocket"
)

type DeepgramConfig struct {
	APIKey         string
	WSBaseURL      string
	Model          string
	Language       string
	UtteranceEndMS int
	EndpointingMS  int
	// KeepAlive is how often a KeepAlive message is sent while no audio flows.
	KeepAlive time.Duration
}

type DeepgramProvider struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "nl"
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = 800
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = 200
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 8 * time.Second
	}
	return &DeepgramProvider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second, Proxy: http.ProxyFromEnvironment},
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

// ListenURL is the streaming endpoint with the telephony audio parameters.
func (p *DeepgramProvider) ListenURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("language", p.cfg.Language)
	q.Set("model", p.cfg.Model)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", strconv.Itoa(p.cfg.UtteranceEndMS))
	q.Set("vad_events", "true")
	q.Set("endpointing", strconv.Itoa(p.cfg.EndpointingMS))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *DeepgramProvider) StartSession(ctx context.Context, _ string) (STTSession, error) {
	endpoint, err := p.ListenURL()
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		perr := &ProviderError{Provider: p.Name(), Detail: err.Error(), Retryable: true}
		if resp != nil {
			perr.Status = resp.StatusCode
			perr.Retryable = reliability.IsRetryableHTTPStatus(resp.StatusCode)
		}
		return nil, fmt.Errorf("dial stt websocket: %w", perr)
	}

	s := &deepgramSession{
		conn:      conn,
		events:    make(chan STTEvent, 256),
		done:      make(chan struct{}),
		keepAlive: p.cfg.KeepAlive,
	}
	s.touch()
	go s.readLoop()
	go s.keepAliveLoop()
	return s, nil
}

type deepgramSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan STTEvent
	done      chan struct{}
	keepAlive time.Duration

	lastWrite atomic.Int64
}

func (s *deepgramSession) Events() <-chan STTEvent { return s.events }

func (s *deepgramSession) SendAudio(_ context.Context, mulaw []byte) error {
	if len(mulaw) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.touch()
	return s.conn.WriteMessage(websocket.BinaryMessage, mulaw)
}

func (s *deepgramSession) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteJSON(map[string]string{"type": "CloseStream"})
	s.writeMu.Unlock()
	s.shutdown()
	return nil
}

func (s *deepgramSession) touch() { s.lastWrite.Store(time.Now().UnixNano()) }

func (s *deepgramSession) keepAliveLoop() {
	ticker := time.NewTicker(s.keepAlive / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, s.lastWrite.Load())) < s.keepAlive {
				continue
			}
			s.writeMu.Lock()
			err := s.conn.WriteJSON(map[string]string{"type": "KeepAlive"})
			s.writeMu.Unlock()
			if err != nil {
				return
			}
			s.touch()
		}
	}
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// readLoop is the only sender on events and closes it on exit.
func (s *deepgramSession) readLoop() {
	defer close(s.events)
	defer s.shutdown()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !s.closed() {
				s.emit(STTEvent{Type: STTEventError, Code: "read", Detail: err.Error(), Retryable: reliability.IsRetryableStreamCode("read")})
			}
			return
		}
		ev, ok := parseDeepgramMessage(data)
		if ok {
			s.emit(ev)
		}
	}
}

// parseDeepgramMessage maps one server message to an event. Metadata and
// empty interim results are dropped.
func parseDeepgramMessage(data []byte) (STTEvent, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return STTEvent{}, false
	}
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return STTEvent{}, false
		}
		alt := msg.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			return STTEvent{}, false
		}
		typ := STTEventPartial
		if msg.IsFinal {
			typ = STTEventFinal
		}
		return STTEvent{Type: typ, Text: text, Confidence: alt.Confidence}, true
	case "UtteranceEnd":
		return STTEvent{Type: STTEventUtteranceEnd}, true
	case "SpeechStarted":
		return STTEvent{Type: STTEventSpeechStarted}, true
	case "Error":
		detail := msg.Description
		if detail == "" {
			detail = msg.Message
		}
		return STTEvent{Type: STTEventError, Code: "deepgram_error", Detail: detail}, true
	default:
		return STTEvent{}, false
	}
}

func (s *deepgramSession) emit(ev STTEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *deepgramSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *deepgramSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
