package dto

import (
	"bytes"
	"encoding/json"

	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// CreateDocumentRequest payload for POST /documents. Every field is optional.
type CreateDocumentRequest struct {
	Name  *string         `json:"name"`
	Nodes json.RawMessage `json:"nodes"`
	Edges json.RawMessage `json:"edges"`
}

// SaveDocumentRequest payload for PUT /documents/:id and POST /universe.
// UpdatedAt is the last server timestamp the client saw, in epoch ms.
type SaveDocumentRequest struct {
	Name      *string         `json:"name,omitempty"`
	Nodes     json.RawMessage `json:"nodes"`
	Edges     json.RawMessage `json:"edges,omitempty"`
	UpdatedAt *int64          `json:"updatedAt,omitempty"`
}

// Document is the wire form of a canvas. Timestamps are epoch ms.
type Document struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Nodes     []json.RawMessage `json:"nodes"`
	Edges     []json.RawMessage `json:"edges"`
	CreatedAt int64             `json:"createdAt"`
	UpdatedAt int64             `json:"updatedAt"`
}

// ConflictResponse is the 409 body: the authoritative document, flagged.
type ConflictResponse struct {
	Conflict bool `json:"conflict"`
	Document
}

// DocumentSummary is one entry of GET /documents.
type DocumentSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NodeCount int    `json:"nodeCount"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// UploadResponse is returned by POST /uploads/images.
type UploadResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// ErrorEnvelope wraps every non-conflict error response.
type ErrorEnvelope struct {
	Error *errorutil.DomainError `json:"error"`
}

// Attempt validates the request and converts it to a sync attempt.
func (r SaveDocumentRequest) Attempt() (domain.SyncAttempt, error) {
	nodes, err := decodeRecords("nodes", r.Nodes, true)
	if err != nil {
		return domain.SyncAttempt{}, err
	}
	edges, err := decodeRecords("edges", r.Edges, false)
	if err != nil {
		return domain.SyncAttempt{}, err
	}
	attempt := domain.SyncAttempt{Name: r.Name, Nodes: nodes, Edges: edges}
	if r.UpdatedAt != nil {
		expected := domain.FromMillis(*r.UpdatedAt)
		attempt.ExpectedUpdatedAt = &expected
	}
	return attempt, nil
}

// Records validates the optional node and edge arrays. Absent nodes stay nil.
func (r CreateDocumentRequest) Records() (nodes, edges []json.RawMessage, err error) {
	if nodes, err = decodeRecords("nodes", r.Nodes, false); err != nil {
		return nil, nil, err
	}
	if edges, err = decodeRecords("edges", r.Edges, false); err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// decodeRecords splits a JSON array into its raw elements. Absent or null
// input yields nil, or a validation error when required.
func decodeRecords(field string, raw json.RawMessage, required bool) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return nil, errorutil.NewValidationError(field, field+" array required")
		}
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, errorutil.NewValidationError(field, field+" must be an array")
	}
	records := []json.RawMessage{}
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, errorutil.NewValidationError(field, field+" must be an array")
	}
	return records, nil
}

// NewDocument maps a canvas to its wire form.
func NewDocument(c *domain.Canvas) Document {
	nodes, edges := c.Nodes, c.Edges
	if nodes == nil {
		nodes = []json.RawMessage{}
	}
	if edges == nil {
		edges = []json.RawMessage{}
	}
	return Document{
		ID:        c.ID,
		Name:      c.Name,
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: c.CreatedAt.UnixMilli(),
		UpdatedAt: c.UpdatedAt.UnixMilli(),
	}
}

// NewConflictResponse flags the authoritative canvas as a conflict.
func NewConflictResponse(c *domain.Canvas) ConflictResponse {
	return ConflictResponse{Conflict: true, Document: NewDocument(c)}
}

// NewDocumentSummaries maps list entries to their wire form.
func NewDocumentSummaries(list []domain.CanvasSummary) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(list))
	for _, s := range list {
		out = append(out, DocumentSummary{
			ID:        s.ID,
			Name:      s.Name,
			NodeCount: s.NodeCount,
			CreatedAt: s.CreatedAt.UnixMilli(),
			UpdatedAt: s.UpdatedAt.UnixMilli(),
		})
	}
	return out
}
