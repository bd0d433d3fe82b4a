package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/internal/events"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// CanvasService owns canvas CRUD and the save protocol: a write is accepted
// unless the client's last known timestamp is older than the stored one, in
// which case it is refused and the stored canvas is handed back.
type CanvasService struct {
	canvases   repository.CanvasRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewCanvasService builds the service. dispatcher may be nil.
func NewCanvasService(canvases repository.CanvasRepository, dispatcher events.Dispatcher, logger *zap.Logger) *CanvasService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CanvasService{canvases: canvases, dispatcher: dispatcher, logger: logger}
}

// CreateCanvasInput carries the optional fields of a new canvas.
type CreateCanvasInput struct {
	Name  *string
	Nodes []json.RawMessage
	Edges []json.RawMessage
}

// SaveResult is the outcome of a save. Canvas is always the authoritative
// stored state; Conflict reports that the write was refused.
type SaveResult struct {
	Canvas   *domain.Canvas
	Conflict bool
}

// Create stores a new canvas, seeding the core node when no nodes are given.
func (s *CanvasService) Create(ctx context.Context, ownerID string, in CreateCanvasInput) (*domain.Canvas, error) {
	canvas := &domain.Canvas{
		OwnerID: ownerID,
		Name:    canvasName(in.Name),
		Nodes:   in.Nodes,
		Edges:   in.Edges,
	}
	if canvas.Nodes == nil {
		canvas.Nodes = domain.SeedNodes()
	}
	if canvas.Edges == nil {
		canvas.Edges = []json.RawMessage{}
	}
	if err := s.canvases.Create(ctx, canvas); err != nil {
		return nil, fmt.Errorf("create canvas: %w", err)
	}
	s.emit(ctx, events.EventCanvasCreated, canvas, nil)
	return canvas, nil
}

// Get returns one of the owner's canvases.
func (s *CanvasService) Get(ctx context.Context, ownerID, id string) (*domain.Canvas, error) {
	canvas, err := s.canvases.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, mapRepoError(err, "get canvas")
	}
	return canvas, nil
}

// GetDefault returns the owner's default canvas, creating a seeded one when
// the owner has none yet.
func (s *CanvasService) GetDefault(ctx context.Context, ownerID string) (*domain.Canvas, error) {
	canvas, err := s.canvases.GetDefault(ctx, ownerID)
	if err == nil {
		return canvas, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get default canvas: %w", err)
	}

	seeded := &domain.Canvas{
		OwnerID: ownerID,
		Name:    domain.FirstCanvasName,
		Nodes:   domain.SeedNodes(),
		Edges:   []json.RawMessage{},
	}
	created, err := s.canvases.CreateDefault(ctx, seeded)
	if err != nil {
		return nil, fmt.Errorf("create default canvas: %w", err)
	}
	if created {
		s.emit(ctx, events.EventCanvasCreated, seeded, nil)
		return seeded, nil
	}
	// Lost a race with a concurrent creator.
	canvas, err = s.canvases.GetDefault(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get default canvas: %w", err)
	}
	return canvas, nil
}

// List returns summaries of the owner's canvases, most recently updated first.
func (s *CanvasService) List(ctx context.Context, ownerID string) ([]domain.CanvasSummary, error) {
	list, err := s.canvases.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	if list == nil {
		list = []domain.CanvasSummary{}
	}
	return list, nil
}

// Save applies a working copy to an existing canvas.
func (s *CanvasService) Save(ctx context.Context, ownerID, id string, attempt domain.SyncAttempt) (*SaveResult, error) {
	attempt, err := normalizeAttempt(attempt)
	if err != nil {
		return nil, err
	}
	return s.compareAndSwap(ctx, ownerID, id, attempt)
}

// SaveDefault applies a working copy to the owner's default canvas. The first
// save creates it from the attempt; no conflict is possible on creation.
func (s *CanvasService) SaveDefault(ctx context.Context, ownerID string, attempt domain.SyncAttempt) (*SaveResult, error) {
	attempt, err := normalizeAttempt(attempt)
	if err != nil {
		return nil, err
	}

	current, err := s.canvases.GetDefault(ctx, ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		name := domain.FirstCanvasName
		if attempt.Name != nil {
			name = canvasName(attempt.Name)
		}
		canvas := &domain.Canvas{OwnerID: ownerID, Name: name, Nodes: attempt.Nodes, Edges: attempt.Edges}
		created, err := s.canvases.CreateDefault(ctx, canvas)
		if err != nil {
			return nil, fmt.Errorf("create default canvas: %w", err)
		}
		if created {
			s.emit(ctx, events.EventCanvasCreated, canvas, nil)
			return &SaveResult{Canvas: canvas}, nil
		}
		current, err = s.canvases.GetDefault(ctx, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get default canvas: %w", err)
	}
	return s.compareAndSwap(ctx, ownerID, current.ID, attempt)
}

// Delete removes one of the owner's canvases.
func (s *CanvasService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.canvases.Delete(ctx, ownerID, id); err != nil {
		return mapRepoError(err, "delete canvas")
	}
	s.emit(ctx, events.EventCanvasDeleted, &domain.Canvas{ID: id, OwnerID: ownerID}, nil)
	return nil
}

func (s *CanvasService) compareAndSwap(ctx context.Context, ownerID, id string, attempt domain.SyncAttempt) (*SaveResult, error) {
	canvas, err := s.canvases.CompareAndSwap(ctx, ownerID, id, attempt)
	if err == nil {
		s.emit(ctx, events.EventCanvasSaved, canvas, attempt.ExpectedUpdatedAt)
		return &SaveResult{Canvas: canvas}, nil
	}

	var stale *repository.StaleWriteError
	if errors.As(err, &stale) {
		s.emit(ctx, events.EventCanvasConflict, stale.Current, attempt.ExpectedUpdatedAt)
		return &SaveResult{Canvas: stale.Current, Conflict: true}, nil
	}
	return nil, mapRepoError(err, "save canvas")
}

func (s *CanvasService) emit(ctx context.Context, eventType events.EventType, canvas *domain.Canvas, clientUpdatedAt *time.Time) {
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:     eventType,
		OwnerID:  canvas.OwnerID,
		CanvasID: canvas.ID,
		Payload: events.CanvasWritePayload{
			NodeCount:       len(canvas.Nodes),
			EdgeCount:       len(canvas.Edges),
			UpdatedAt:       canvas.UpdatedAt,
			ClientUpdatedAt: clientUpdatedAt,
		},
	})
}

// normalizeAttempt enforces that nodes is present and defaults edges.
func normalizeAttempt(attempt domain.SyncAttempt) (domain.SyncAttempt, error) {
	if attempt.Nodes == nil {
		return attempt, errorutil.NewValidationError("nodes", "nodes array required")
	}
	if attempt.Edges == nil {
		attempt.Edges = []json.RawMessage{}
	}
	if attempt.Name != nil {
		name := canvasName(attempt.Name)
		attempt.Name = &name
	}
	if attempt.ExpectedUpdatedAt != nil {
		expected := domain.TruncateTimestamp(*attempt.ExpectedUpdatedAt)
		attempt.ExpectedUpdatedAt = &expected
	}
	return attempt, nil
}

func canvasName(name *string) string {
	if name == nil {
		return domain.DefaultCanvasName
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return domain.DefaultCanvasName
	}
	return trimmed
}

func mapRepoError(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errorutil.NewNotFound("canvas", nil)
	}
	return fmt.Errorf("%s: %w", op, err)
}
