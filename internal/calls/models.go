package calls

import "time"

// CallRecord is the persisted view of one outbound call attempt.
//
// CallID is generated before any vendor is contacted and is the document key
// for every write. Writes merge: a zero field never erases a stored value.
type CallRecord struct {
	CallID           string `json:"callId" firestore:"callId"`
	TwilioCallSid    string `json:"twilioCallSid,omitempty" firestore:"twilioCallSid,omitempty"`
	ElevenLabsCallID string `json:"elevenlabsCallId,omitempty" firestore:"elevenlabsCallId,omitempty"`
	AgentID          string `json:"agentId,omitempty" firestore:"agentId,omitempty"`

	ToNumber   string `json:"toNumber,omitempty" firestore:"toNumber,omitempty"`
	FromNumber string `json:"fromNumber,omitempty" firestore:"fromNumber,omitempty"`
	Direction  string `json:"direction,omitempty" firestore:"direction,omitempty"`

	Status           Status `json:"status,omitempty" firestore:"status,omitempty"`
	TwilioStatus     string `json:"twilioStatus,omitempty" firestore:"twilioStatus,omitempty"`
	ElevenLabsStatus string `json:"elevenlabsStatus,omitempty" firestore:"elevenlabsStatus,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty" firestore:"startedAt,omitempty"`
	RingingAt   *time.Time `json:"ringingAt,omitempty" firestore:"ringingAt,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty" firestore:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty" firestore:"endedAt,omitempty"`

	DurationSec  int    `json:"durationSec,omitempty" firestore:"durationSec,omitempty"`
	EndReason    string `json:"endReason,omitempty" firestore:"endReason,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty" firestore:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty" firestore:"errorMessage,omitempty"`

	Recording *Recording `json:"recording,omitempty" firestore:"recording,omitempty"`

	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

type Recording struct {
	RecordingSid string `json:"recordingSid,omitempty" firestore:"recordingSid,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty" firestore:"recordingUrl,omitempty"`
	Status       string `json:"status,omitempty" firestore:"status,omitempty"`
	DurationSec  int    `json:"durationSec,omitempty" firestore:"durationSec,omitempty"`
}

func (r *Recording) isZero() bool {
	return r == nil || *r == Recording{}
}

// Terminal reports whether the record has reached a status after which no
// further transitions are expected.
func (r CallRecord) Terminal() bool {
	return r.Status.Terminal()
}

type MessageType string

const (
	MessageAI     MessageType = "ai"
	MessageHuman  MessageType = "human"
	MessageSystem MessageType = "system"
)

// ConversationMessage is one transcript line owned by a call. Messages are
// append-only and keyed by ID, so re-delivering the same message is harmless.
type ConversationMessage struct {
	ID        string      `json:"id" firestore:"id"`
	CallID    string      `json:"callId" firestore:"callId"`
	Type      MessageType `json:"type" firestore:"type"`
	Content   string      `json:"content" firestore:"content"`
	Timestamp time.Time   `json:"timestamp" firestore:"timestamp"`
	Sentiment string      `json:"sentiment,omitempty" firestore:"sentiment,omitempty"`
}

// Vendor identifies whose status vocabulary and call id a value belongs to.
type Vendor string

const (
	VendorTwilio     Vendor = "twilio"
	VendorVoiceAgent Vendor = "voiceAgent"
)

func (v Vendor) Valid() bool {
	return v == VendorTwilio || v == VendorVoiceAgent
}

// Record fields used as lookup keys by backends.
const (
	FieldTwilioCallSid    = "twilioCallSid"
	FieldElevenLabsCallID = "elevenlabsCallId"
	FieldCreatedAt        = "createdAt"
)

// VendorField returns the record field holding the vendor's own call id.
func VendorField(v Vendor) string {
	if v == VendorTwilio {
		return FieldTwilioCallSid
	}
	return FieldElevenLabsCallID
}
