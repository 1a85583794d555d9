package engine

import (
	"context"

	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

// HandleTurn serves the business-logic contract on top of ProcessTurn.
func (o *Orchestrator) HandleTurn(ctx context.Context, req protocol.TurnRequest) (protocol.TurnResponse, error) {
	out, err := o.ProcessTurn(ctx, InputFromRequest(req))
	return ResponseFromOutput(out), err
}

func InputFromRequest(req protocol.TurnRequest) Input {
	history := make([]conversation.Turn, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, conversation.Turn{Role: h.Role, Content: h.Content})
	}
	return Input{
		TenantID:   req.BusinessID,
		CallID:     req.ConversationID,
		CallerID:   req.CallerID,
		Transcript: req.Transcript,
		History:    history,
		Channel:    req.Channel,
	}
}

func ResponseFromOutput(out Output) protocol.TurnResponse {
	return protocol.TurnResponse{
		Response: out.Response,
		State:    string(out.State),
		EndCall:  out.EndCall,
		Escalate: out.Escalate,
	}
}
