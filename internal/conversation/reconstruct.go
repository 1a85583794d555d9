package conversation

import (
	"strings"

	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/nlu"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GreetingSentinel is the transcript of the synthetic turn that opens a call.
const GreetingSentinel = "__greeting__"

// Turn is one line of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reconstruct rebuilds a session from the caller's previous turns alone. Each
// user turn is parsed with the slot the rebuilt state was expecting at that
// point; entities are folded forward and the state is the first empty
// collection state. The result depends only on history and hints.
func Reconstruct(callID, tenantID string, history []Turn, parser nlu.Parser, hints nlu.Hints) dialogue.Session {
	sess := dialogue.NewSession(callID, tenantID, hints.Now.UTC())
	replayed := false
	for _, turn := range history {
		if turn.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(turn.Content)
		if text == "" || text == GreetingSentinel {
			continue
		}
		h := hints
		h.Expecting = dialogue.ExpectedSlot(sess.State)
		if sess.State == dialogue.StateCheckAvailability && sess.Collected.Name == "" {
			h.Expecting = dialogue.SlotName
		}
		in := parser.Parse(text, h)
		if in.Kind == dialogue.IntentCancel || in.Kind == dialogue.IntentReschedule {
			continue
		}
		sess.Collected.Merge(in.Entities)
		sess.State = dialogue.StateFor(sess.Collected)
		replayed = true
	}
	if !replayed {
		sess.State = dialogue.StateGreeting
	}
	return sess
}
