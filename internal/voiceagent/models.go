package voiceagent

// OutboundCallRequest is the body of the Twilio-bridged outbound call.
type OutboundCallRequest struct {
	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	ToNumber           string `json:"to_number"`
}

type OutboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSid        string `json:"callSid"`
}

type Agent struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Tags          []string `json:"tags,omitempty"`
	CreatedAtUnix int64    `json:"created_at_unix_secs,omitempty"`
}

type AgentList struct {
	Agents     []Agent `json:"agents"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type ConversationSummary struct {
	AgentID          string `json:"agent_id"`
	AgentName        string `json:"agent_name,omitempty"`
	ConversationID   string `json:"conversation_id"`
	StartTimeUnix    int64  `json:"start_time_unix_secs"`
	CallDurationSecs int    `json:"call_duration_secs"`
	MessageCount     int    `json:"message_count"`
	Status           string `json:"status"`
	CallSuccessful   string `json:"call_successful,omitempty"`
}

type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
	NextCursor    string                `json:"next_cursor,omitempty"`
}

type TranscriptTurn struct {
	Role           string `json:"role"`
	Message        string `json:"message"`
	TimeInCallSecs int    `json:"time_in_call_secs"`
}

type ConversationMetadata struct {
	StartTimeUnix    int64 `json:"start_time_unix_secs"`
	CallDurationSecs int   `json:"call_duration_secs"`
}

type Conversation struct {
	AgentID        string               `json:"agent_id"`
	ConversationID string               `json:"conversation_id"`
	Status         string               `json:"status"`
	Transcript     []TranscriptTurn     `json:"transcript"`
	Metadata       ConversationMetadata `json:"metadata"`
}
