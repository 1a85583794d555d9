package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/protocol"
)

func TestHTTPTurnClientPostsTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/turn" || r.Header.Get("x-webhook-secret") != "s3cret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req protocol.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.TurnResponse{Response: "echo: " + req.Transcript, State: "COLLECT_DATE"})
	}))
	defer srv.Close()

	c := NewHTTPTurnClient(srv.URL+"/", "s3cret", time.Second)
	resp, err := c.HandleTurn(context.Background(), protocol.TurnRequest{BusinessID: "salon", Transcript: "knippen", ConversationID: "CA1"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Response != "echo: knippen" || resp.State != "COLLECT_DATE" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHTTPTurnClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.TurnResponse{Response: "ok"})
	}))
	defer srv.Close()

	c := NewHTTPTurnClient(srv.URL, "", time.Second)
	c.backoff = time.Millisecond
	resp, err := c.HandleTurn(context.Background(), protocol.TurnRequest{})
	if err != nil || resp.Response != "ok" {
		t.Fatalf("HandleTurn() = %+v, %v", resp, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPTurnClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown tenant", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPTurnClient(srv.URL, "", time.Second)
	if _, err := c.HandleTurn(context.Background(), protocol.TurnRequest{}); err == nil {
		t.Fatal("HandleTurn() expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
