package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCanvasCreated  EventType = "canvas_created"
	EventCanvasSaved    EventType = "canvas_saved"
	EventCanvasConflict EventType = "canvas_conflict"
	EventCanvasDeleted  EventType = "canvas_deleted"
	EventUserSignedUp   EventType = "user_signed_up"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	OwnerID   string      `json:"owner_id"`
	CanvasID  string      `json:"canvas_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// CanvasWritePayload describes an accepted or refused canvas write.
type CanvasWritePayload struct {
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	UpdatedAt time.Time `json:"updated_at"`
	// ClientUpdatedAt is the timestamp the client believed current, if any.
	ClientUpdatedAt *time.Time `json:"client_updated_at,omitempty"`
}
