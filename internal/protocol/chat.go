package protocol

import (
	"fmt"
	"strings"
	"time"
)

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	DefaultChatModel          = "appointment-system"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCustomer struct {
	Number string `json:"number,omitempty"`
}

// ChatCall is the call object voice orchestration platforms attach to
// custom-LLM requests.
type ChatCall struct {
	ID          string       `json:"id,omitempty"`
	AssistantID string       `json:"assistantId,omitempty"`
	Customer    ChatCustomer `json:"customer,omitempty"`
}

type ChatRequest struct {
	Model       string            `json:"model,omitempty"`
	Messages    []ChatMessage     `json:"messages"`
	Stream      bool              `json:"stream,omitempty"`
	Call        *ChatCall         `json:"call,omitempty"`
	AssistantID string            `json:"assistantId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LastUserMessage returns the trimmed content of the newest user message.
func (r ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// PriorMessages returns the messages before the newest user message.
func (r ChatRequest) PriorMessages() []ChatMessage {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[:i]
		}
	}
	return r.Messages
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

func completionID(now time.Time) string {
	return fmt.Sprintf("chatcmpl-%d", now.UnixNano())
}

// NewChatCompletion wraps a full reply in a non-streaming completion.
func NewChatCompletion(model, content string, now time.Time) ChatCompletion {
	stop := "stop"
	return ChatCompletion{
		ID:      completionID(now),
		Object:  ObjectChatCompletion,
		Created: now.Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: &stop,
		}},
	}
}

// NewChatChunks returns the streaming frames for a reply: one content
// delta followed by an empty delta carrying finish_reason "stop".
func NewChatChunks(model, content string, now time.Time) []ChatCompletion {
	id := completionID(now)
	stop := "stop"
	base := func(choice ChatChoice) ChatCompletion {
		return ChatCompletion{ID: id, Object: ObjectChatCompletionChunk, Created: now.Unix(), Model: model, Choices: []ChatChoice{choice}}
	}
	return []ChatCompletion{
		base(ChatChoice{Delta: &ChatDelta{Role: "assistant", Content: content}}),
		base(ChatChoice{Delta: &ChatDelta{}, FinishReason: &stop}),
	}
}
