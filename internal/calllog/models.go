package calllog

import "time"

// Event is an immutable entry in a call's event log.
//
// Events are never updated or deleted. Logging is best-effort: no call flow
// blocks on a failed append.
type Event struct {
	ID     string    `json:"id" firestore:"id"`
	CallID string    `json:"callId" firestore:"callId"`
	Type   EventType `json:"type" firestore:"type"`

	// ActorUserID is the authenticated operator causing the event, if any.
	ActorUserID string `json:"actorUserId,omitempty" firestore:"actorUserId,omitempty"`

	Message string            `json:"message,omitempty" firestore:"message,omitempty"`
	Data    map[string]string `json:"data,omitempty" firestore:"data,omitempty"`

	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
}

type EventType string

const (
	EventCallInitiated EventType = "call_initiated"
	EventStatusUpdate  EventType = "status_update"
	EventConversation  EventType = "conversation_event"
	EventCallEnded     EventType = "call_ended"
	EventCallFailed    EventType = "call_failed"
)
