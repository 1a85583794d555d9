package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/policy"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

var (
	errNoTenant = errors.New("no tenant in request")
	// chatSessionNamespace derives stable conversation ids for clients that
	// send no call id.
	chatSessionNamespace = uuid.MustParse("6f1c2a9e-3b47-4d2e-9a51-0c8e7d4b2f16")
)

// handleChatCompletions exposes the dialogue engine as an OpenAI-compatible
// custom LLM. Failures still answer 200 with an apology so the voice
// platform has something to say.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx := r.Context()
	logger := logging.From(ctx)
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = protocol.DefaultChatModel
	}

	tenantID, err := s.resolveChatTenant(ctx, r, req)
	if err != nil {
		logger.Warn("chat tenant unresolved", "error", err)
		s.writeChat(w, req.Stream, model, dialogue.Render(dialogue.RespTechnicalIssue, dialogue.RenderInput{}))
		return
	}

	in := engine.Input{
		TenantID:   tenantID,
		CallID:     chatCallID(req),
		Transcript: req.LastUserMessage(),
		History:    chatHistory(req.PriorMessages()),
		Channel:    engine.ChannelChat,
	}
	if req.Call != nil {
		in.CallerID = strings.TrimSpace(req.Call.Customer.Number)
	}
	if in.CallerID == "" {
		in.CallerID = strings.TrimSpace(req.Metadata["caller_id"])
	}
	logger.Info("chat turn",
		"tenant_id", tenantID,
		"call_id", in.CallID,
		"caller", policy.MaskPhone(in.CallerID),
		"stream", req.Stream,
		"history", len(in.History),
	)

	out, err := s.deps.Engine.ProcessTurn(ctx, in)
	if err != nil {
		logger.Warn("chat turn degraded", "error", err)
	}
	s.writeChat(w, req.Stream, model, out.Response)
}

// resolveChatTenant picks the tenant from, in order: the bearer token, the
// metadata, the query string, then the assistant/agent id.
func (s *Server) resolveChatTenant(ctx context.Context, r *http.Request, req protocol.ChatRequest) (string, error) {
	if id, ok := auth.TenantID(ctx); ok {
		return id, nil
	}
	for _, key := range []string{"tenant_id", "business_id"} {
		if id := strings.TrimSpace(req.Metadata[key]); id != "" {
			return id, nil
		}
	}
	if id := strings.TrimSpace(r.URL.Query().Get("tenant_id")); id != "" {
		return id, nil
	}

	agentID := strings.TrimSpace(req.AssistantID)
	if req.Call != nil && strings.TrimSpace(req.Call.AssistantID) != "" {
		agentID = strings.TrimSpace(req.Call.AssistantID)
	}
	if agentID == "" {
		agentID = strings.TrimSpace(req.Metadata["agent_id"])
	}
	if agentID == "" {
		agentID = strings.TrimSpace(r.URL.Query().Get("agent_id"))
	}
	if agentID == "" || s.deps.Tenants == nil {
		return "", errNoTenant
	}
	t, err := s.deps.Tenants.TenantByAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("tenant for agent %s: %w", agentID, err)
	}
	return t.ID, nil
}

// chatCallID prefers the platform's call id, then a metadata conversation id,
// then a hash of the opening messages, which stays stable across the turns
// of one conversation.
func chatCallID(req protocol.ChatRequest) string {
	if req.Call != nil && strings.TrimSpace(req.Call.ID) != "" {
		return strings.TrimSpace(req.Call.ID)
	}
	for _, key := range []string{"conversation_id", "user_id"} {
		if id := strings.TrimSpace(req.Metadata[key]); id != "" {
			return id
		}
	}
	var b strings.Builder
	for i, m := range req.Messages {
		if i == 3 {
			break
		}
		content := m.Content
		if len(content) > 50 {
			content = content[:50]
		}
		fmt.Fprintf(&b, "%s:%s|", m.Role, content)
	}
	return "chat-" + uuid.NewSHA1(chatSessionNamespace, []byte(b.String())).String()
}

func chatHistory(msgs []protocol.ChatMessage) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
			continue
		}
		out = append(out, conversation.Turn{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Server) writeChat(w http.ResponseWriter, stream bool, model, content string) {
	now := s.deps.Now()
	if !stream {
		respondJSON(w, http.StatusOK, protocol.NewChatCompletion(model, content, now))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	for _, chunk := range protocol.NewChatChunks(model, content, now) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		_ = rc.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	_ = rc.Flush()
}
