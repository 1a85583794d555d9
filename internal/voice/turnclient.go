package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/reliability"
)

// HTTPTurnClient calls a remote business-logic service's POST /v1/turn.
type HTTPTurnClient struct {
	endpoint   string
	secret     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewHTTPTurnClient(baseURL, secret string, timeout time.Duration) *HTTPTurnClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTurnClient{
		endpoint:   strings.TrimRight(baseURL, "/") + "/v1/turn",
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 1,
		backoff:    100 * time.Millisecond,
	}
}

func (c *HTTPTurnClient) HandleTurn(ctx context.Context, req protocol.TurnRequest) (protocol.TurnResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.TurnResponse{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return protocol.TurnResponse{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.backoff, time.Second)):
			}
		}
		resp, retryable, err := c.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return protocol.TurnResponse{}, lastErr
}

func (c *HTTPTurnClient) do(ctx context.Context, body []byte) (protocol.TurnResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.TurnResponse{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		httpReq.Header.Set("x-webhook-secret", c.secret)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return protocol.TurnResponse{}, ctx.Err() == nil, fmt.Errorf("post turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return protocol.TurnResponse{}, reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("post turn: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var out protocol.TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.TurnResponse{}, false, fmt.Errorf("decode turn response: %w", err)
	}
	return out, false, nil
}
