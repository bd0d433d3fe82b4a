// Package canvas keeps a local working copy of a document in step with the
// server using the timestamp save protocol.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/client/api"
)

// WorkingCopy is the client's editable copy of a document. UpdatedAt is the
// last server timestamp seen, nil before the first save.
type WorkingCopy struct {
	ID        string
	Name      string
	Nodes     []json.RawMessage
	Edges     []json.RawMessage
	UpdatedAt *int64
}

// Clone returns a detached copy.
func (w WorkingCopy) Clone() WorkingCopy {
	out := w
	out.Nodes = cloneRecords(w.Nodes)
	out.Edges = cloneRecords(w.Edges)
	if w.UpdatedAt != nil {
		ts := *w.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}

// FromDocument builds a working copy synced to a server document.
func FromDocument(doc dto.Document) WorkingCopy {
	ts := doc.UpdatedAt
	return WorkingCopy{
		ID:        doc.ID,
		Name:      doc.Name,
		Nodes:     cloneRecords(doc.Nodes),
		Edges:     cloneRecords(doc.Edges),
		UpdatedAt: &ts,
	}
}

// Status is the result kind of a push.
type Status int

const (
	Accepted Status = iota + 1
	Conflict
)

func (s Status) String() string {
	if s == Conflict {
		return "conflict"
	}
	return "accepted"
}

// Outcome is the result of a push. Authoritative is always the server copy.
type Outcome struct {
	Status        Status
	Authoritative dto.Document
}

// Strategy picks how a conflict is resolved.
type Strategy int

const (
	// KeepServer discards local edits in favor of the server copy.
	KeepServer Strategy = iota + 1
	// Overwrite pushes local edits on top of the server copy.
	Overwrite
)

// DocumentAPI is the subset of the API client the syncer needs.
type DocumentAPI interface {
	GetDocument(ctx context.Context, auth api.HeaderSource, id string) (*dto.Document, error)
	SaveDocument(ctx context.Context, auth api.HeaderSource, id string, req dto.SaveDocumentRequest) (*dto.Document, error)
}

// Syncer pulls and pushes working copies.
type Syncer struct {
	docs   DocumentAPI
	auth   api.HeaderSource
	logger *zap.Logger
}

// NewSyncer creates a syncer that authenticates with auth.
func NewSyncer(docs DocumentAPI, auth api.HeaderSource, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{docs: docs, auth: auth, logger: logger}
}

// Pull fetches the server copy of id as a fresh working copy.
func (s *Syncer) Pull(ctx context.Context, id string) (WorkingCopy, error) {
	doc, err := s.docs.GetDocument(ctx, s.auth, id)
	if err != nil {
		return WorkingCopy{}, fmt.Errorf("pull %s: %w", id, err)
	}
	return FromDocument(*doc), nil
}

// Push saves wc. On acceptance wc is resynced to the stored state. On
// conflict wc is left untouched and the server copy is returned in the
// outcome.
func (s *Syncer) Push(ctx context.Context, wc *WorkingCopy) (Outcome, error) {
	nodes := wc.Nodes
	if nodes == nil {
		nodes = []json.RawMessage{}
	}
	rawNodes, err := json.Marshal(nodes)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode nodes: %w", err)
	}
	req := dto.SaveDocumentRequest{Nodes: rawNodes, UpdatedAt: wc.UpdatedAt}
	if wc.Edges != nil {
		if req.Edges, err = json.Marshal(wc.Edges); err != nil {
			return Outcome{}, fmt.Errorf("encode edges: %w", err)
		}
	}
	if wc.Name != "" {
		name := wc.Name
		req.Name = &name
	}

	doc, err := s.docs.SaveDocument(ctx, s.auth, wc.ID, req)
	if conflict, ok := api.IsConflict(err); ok {
		s.logger.Info("push refused; server copy is newer",
			zap.String("document_id", wc.ID),
			zap.Int64("server_updated_at", conflict.Document.UpdatedAt))
		return Outcome{Status: Conflict, Authoritative: conflict.Document}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("push %s: %w", wc.ID, err)
	}
	*wc = FromDocument(*doc)
	return Outcome{Status: Accepted, Authoritative: *doc}, nil
}

// Resolve settles a conflict returned by Push. KeepServer replaces wc with
// the server copy. Overwrite adopts the server timestamp and pushes the local
// content again; that push may itself conflict if the server moved on.
func (s *Syncer) Resolve(ctx context.Context, wc *WorkingCopy, conflict Outcome, strategy Strategy) (Outcome, error) {
	if conflict.Status != Conflict {
		return conflict, errors.New("resolve: outcome is not a conflict")
	}
	switch strategy {
	case KeepServer:
		*wc = FromDocument(conflict.Authoritative)
		return Outcome{Status: Accepted, Authoritative: conflict.Authoritative}, nil
	case Overwrite:
		rebased := wc.Clone()
		ts := conflict.Authoritative.UpdatedAt
		rebased.UpdatedAt = &ts
		out, err := s.Push(ctx, &rebased)
		if err != nil {
			return Outcome{}, err
		}
		if out.Status == Accepted {
			*wc = rebased
		}
		return out, nil
	default:
		return Outcome{}, fmt.Errorf("resolve: unknown strategy %d", strategy)
	}
}

func cloneRecords(records []json.RawMessage) []json.RawMessage {
	if records == nil {
		return nil
	}
	out := make([]json.RawMessage, len(records))
	for i, rec := range records {
		out[i] = append(json.RawMessage(nil), rec...)
	}
	return out
}
