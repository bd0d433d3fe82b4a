package domain

import (
	"encoding/json"
	"time"
)

const (
	// DefaultCanvasName is used when a canvas is created without a name.
	DefaultCanvasName = "Untitled"
	// FirstCanvasName names the canvas seeded for a new account.
	FirstCanvasName = "My First Canvas"
	// CoreNodeID identifies the anchor node seeded into new canvases.
	CoreNodeID = "core"
)

// Canvas is the authoritative stored document. Nodes and edges are opaque
// client records; the server never interprets them.
type Canvas struct {
	ID        string
	OwnerID   string
	Name      string
	Nodes     []json.RawMessage
	Edges     []json.RawMessage
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanvasSummary is the list view of a canvas.
type CanvasSummary struct {
	ID        string
	Name      string
	NodeCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncAttempt is a client working copy submitted for saving. ExpectedUpdatedAt
// is the last server timestamp the client saw; nil means no prior save.
type SyncAttempt struct {
	Name              *string
	Nodes             []json.RawMessage
	Edges             []json.RawMessage
	ExpectedUpdatedAt *time.Time
}

// CoreNode returns the anchor node record seeded into new canvases.
func CoreNode() json.RawMessage {
	return json.RawMessage(`{"id":"core","type":"moriNode","position":{"x":0,"y":0},"data":{"label":"Me","isCore":true,"tilt":0}}`)
}

// SeedNodes returns the node list of a freshly created canvas.
func SeedNodes() []json.RawMessage {
	return []json.RawMessage{CoreNode()}
}

// TruncateTimestamp aligns t to the millisecond precision used on the wire.
func TruncateTimestamp(t time.Time) time.Time {
	return t.Truncate(time.Millisecond).UTC()
}

// NextUpdatedAt returns the timestamp for an accepted write: now, bumped past
// the previous value so successive writes strictly increase.
func NextUpdatedAt(now, previous time.Time) time.Time {
	next := TruncateTimestamp(now)
	if !next.After(previous) {
		next = TruncateTimestamp(previous).Add(time.Millisecond)
	}
	return next
}

// FromMillis converts an epoch-millisecond wire timestamp.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
