package protocol

// HistoryItem is one prior line of the conversation.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the business-logic boundary request. BusinessID is the tenant.
type TurnRequest struct {
	BusinessID     string        `json:"business_id"`
	Transcript     string        `json:"transcript"`
	ConversationID string        `json:"conversation_id"`
	CallerID       string        `json:"caller_id,omitempty"`
	History        []HistoryItem `json:"history,omitempty"`
	// Channel is "phone" or "chat"; empty means phone.
	Channel string `json:"channel,omitempty"`
}

type TurnResponse struct {
	Response string `json:"response"`
	State    string `json:"state,omitempty"`
	EndCall  bool   `json:"end_call,omitempty"`
	Escalate bool   `json:"escalate,omitempty"`
}
