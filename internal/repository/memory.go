package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/canvas-sync/internal/domain"
)

// MemoryStore keeps users and canvases in process memory. It backs the
// service when no database is configured and is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[string]*domain.User
	canvases map[string]*domain.Canvas
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		users:    make(map[string]*domain.User),
		canvases: make(map[string]*domain.Canvas),
	}
}

// Users returns the user repository view of the store.
func (s *MemoryStore) Users() UserRepository {
	return memoryUsers{s}
}

// Canvases returns the canvas repository view of the store.
func (s *MemoryStore) Canvases() CanvasRepository {
	return memoryCanvases{s}
}

type memoryUsers struct {
	s *MemoryStore
}

func (r memoryUsers) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	now := r.s.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	r.s.users[user.ID] = &stored
	return nil
}

func (r memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *user
	return &out, nil
}

func (r memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			out := *user
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memoryCanvases struct {
	s *MemoryStore
}

func (r memoryCanvases) Create(_ context.Context, canvas *domain.Canvas) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.insertLocked(canvas)
	return nil
}

func (r memoryCanvases) CreateDefault(_ context.Context, canvas *domain.Canvas) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.defaultLocked(canvas.OwnerID) != nil {
		return false, nil
	}
	canvas.IsDefault = true
	r.s.insertLocked(canvas)
	return true, nil
}

func (r memoryCanvases) GetByID(_ context.Context, ownerID, id string) (*domain.Canvas, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	canvas, ok := r.s.ownedLocked(ownerID, id)
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneCanvas(canvas), nil
}

func (r memoryCanvases) GetDefault(_ context.Context, ownerID string) (*domain.Canvas, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	canvas := r.s.defaultLocked(ownerID)
	if canvas == nil {
		return nil, pgx.ErrNoRows
	}
	return cloneCanvas(canvas), nil
}

func (r memoryCanvases) ListByOwner(_ context.Context, ownerID string) ([]domain.CanvasSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []domain.CanvasSummary
	for _, canvas := range r.s.canvases {
		if canvas.OwnerID != ownerID {
			continue
		}
		result = append(result, domain.CanvasSummary{
			ID:        canvas.ID,
			Name:      canvas.Name,
			NodeCount: len(canvas.Nodes),
			CreatedAt: canvas.CreatedAt,
			UpdatedAt: canvas.UpdatedAt,
		})
	}
	// Newest first; equal timestamps fall back to id so the order is stable.
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r memoryCanvases) CompareAndSwap(_ context.Context, ownerID, id string, attempt domain.SyncAttempt) (*domain.Canvas, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	canvas, ok := r.s.ownedLocked(ownerID, id)
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if attempt.ExpectedUpdatedAt != nil && attempt.ExpectedUpdatedAt.Before(canvas.UpdatedAt) {
		return nil, &StaleWriteError{Current: cloneCanvas(canvas)}
	}

	if attempt.Name != nil {
		canvas.Name = *attempt.Name
	}
	canvas.Nodes = cloneRecords(attempt.Nodes)
	canvas.Edges = cloneRecords(attempt.Edges)
	canvas.UpdatedAt = domain.NextUpdatedAt(r.s.now(), canvas.UpdatedAt)
	return cloneCanvas(canvas), nil
}

func (r memoryCanvases) Delete(_ context.Context, ownerID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.ownedLocked(ownerID, id); !ok {
		return pgx.ErrNoRows
	}
	delete(r.s.canvases, id)
	return nil
}

func (s *MemoryStore) insertLocked(canvas *domain.Canvas) {
	now := domain.TruncateTimestamp(s.now())
	canvas.ID = uuid.NewString()
	canvas.Nodes = cloneRecords(canvas.Nodes)
	canvas.Edges = cloneRecords(canvas.Edges)
	canvas.CreatedAt = now
	canvas.UpdatedAt = now
	s.canvases[canvas.ID] = cloneCanvas(canvas)
}

func (s *MemoryStore) ownedLocked(ownerID, id string) (*domain.Canvas, bool) {
	canvas, ok := s.canvases[id]
	if !ok || canvas.OwnerID != ownerID {
		return nil, false
	}
	return canvas, true
}

func (s *MemoryStore) defaultLocked(ownerID string) *domain.Canvas {
	for _, canvas := range s.canvases {
		if canvas.OwnerID == ownerID && canvas.IsDefault {
			return canvas
		}
	}
	return nil
}

func cloneCanvas(c *domain.Canvas) *domain.Canvas {
	out := *c
	out.Nodes = cloneRecords(c.Nodes)
	out.Edges = cloneRecords(c.Edges)
	return &out
}

func cloneRecords(records []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, rec := range records {
		out[i] = append(json.RawMessage(nil), rec...)
	}
	return out
}
