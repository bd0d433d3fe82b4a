package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/canvas-sync/internal/domain"
)

// StaleWriteError is returned when a write carried an expected timestamp older
// than the stored one. Current is the unmodified stored canvas.
type StaleWriteError struct {
	Current *domain.Canvas
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for canvas %s", e.Current.ID)
}

// CanvasRepository encapsulates canvas persistence. Every method is scoped by
// owner; a canvas owned by someone else behaves as absent (pgx.ErrNoRows).
type CanvasRepository interface {
	Create(ctx context.Context, canvas *domain.Canvas) error
	// CreateDefault inserts canvas as the owner's default canvas. It reports
	// false without error when the owner already has one.
	CreateDefault(ctx context.Context, canvas *domain.Canvas) (bool, error)
	GetByID(ctx context.Context, ownerID, id string) (*domain.Canvas, error)
	GetDefault(ctx context.Context, ownerID string) (*domain.Canvas, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.CanvasSummary, error)
	// CompareAndSwap replaces name (when set), nodes and edges in one atomic
	// step if the stored updated_at is not newer than attempt.ExpectedUpdatedAt
	// (always, when nil), and assigns a fresh updated_at. A refused write
	// returns *StaleWriteError.
	CompareAndSwap(ctx context.Context, ownerID, id string, attempt domain.SyncAttempt) (*domain.Canvas, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type canvasRepository struct {
	pool *pgxpool.Pool
}

// NewCanvasRepository returns a Postgres-backed implementation.
func NewCanvasRepository(pool *pgxpool.Pool) CanvasRepository {
	return &canvasRepository{pool: pool}
}

const canvasColumns = `id::text, owner_id::text, name, nodes, edges, is_default, created_at, updated_at`

func (r *canvasRepository) Create(ctx context.Context, canvas *domain.Canvas) error {
	query := `
        INSERT INTO canvases (owner_id, name, nodes, edges, is_default)
        VALUES ($1, $2, $3::jsonb, $4::jsonb, $5)
        RETURNING ` + canvasColumns
	nodes, edges, err := encodeRecords(canvas.Nodes, canvas.Edges)
	if err != nil {
		return err
	}
	stored, err := scanCanvas(r.pool.QueryRow(ctx, query,
		canvas.OwnerID,
		canvas.Name,
		nodes,
		edges,
		canvas.IsDefault,
	))
	if err != nil {
		return err
	}
	*canvas = *stored
	return nil
}

func (r *canvasRepository) CreateDefault(ctx context.Context, canvas *domain.Canvas) (bool, error) {
	query := `
        INSERT INTO canvases (owner_id, name, nodes, edges, is_default)
        VALUES ($1, $2, $3::jsonb, $4::jsonb, TRUE)
        ON CONFLICT (owner_id) WHERE is_default DO NOTHING
        RETURNING ` + canvasColumns
	nodes, edges, err := encodeRecords(canvas.Nodes, canvas.Edges)
	if err != nil {
		return false, err
	}
	stored, err := scanCanvas(r.pool.QueryRow(ctx, query,
		canvas.OwnerID,
		canvas.Name,
		nodes,
		edges,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	*canvas = *stored
	return true, nil
}

func (r *canvasRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Canvas, error) {
	if !validID(id) || !validID(ownerID) {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + canvasColumns + ` FROM canvases WHERE id=$1 AND owner_id=$2`
	return scanCanvas(r.pool.QueryRow(ctx, query, id, ownerID))
}

func (r *canvasRepository) GetDefault(ctx context.Context, ownerID string) (*domain.Canvas, error) {
	if !validID(ownerID) {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + canvasColumns + ` FROM canvases WHERE owner_id=$1 AND is_default`
	return scanCanvas(r.pool.QueryRow(ctx, query, ownerID))
}

func (r *canvasRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.CanvasSummary, error) {
	if !validID(ownerID) {
		return nil, nil
	}
	const query = `
        SELECT id::text, name, jsonb_array_length(nodes), created_at, updated_at
        FROM canvases WHERE owner_id=$1
        ORDER BY updated_at DESC, id`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CanvasSummary
	for rows.Next() {
		var summary domain.CanvasSummary
		if err := rows.Scan(
			&summary.ID,
			&summary.Name,
			&summary.NodeCount,
			&summary.CreatedAt,
			&summary.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

func (r *canvasRepository) CompareAndSwap(ctx context.Context, ownerID, id string, attempt domain.SyncAttempt) (*domain.Canvas, error) {
	if !validID(id) || !validID(ownerID) {
		return nil, pgx.ErrNoRows
	}
	query := `
        UPDATE canvases SET
            name = COALESCE($3, name),
            nodes = $4::jsonb,
            edges = $5::jsonb,
            updated_at = GREATEST(date_trunc('milliseconds', clock_timestamp()), updated_at + interval '1 millisecond')
        WHERE id=$1 AND owner_id=$2 AND ($6::timestamptz IS NULL OR updated_at <= $6::timestamptz)
        RETURNING ` + canvasColumns
	nodes, edges, err := encodeRecords(attempt.Nodes, attempt.Edges)
	if err != nil {
		return nil, err
	}
	updated, err := scanCanvas(r.pool.QueryRow(ctx, query,
		id,
		ownerID,
		attempt.Name,
		nodes,
		edges,
		attempt.ExpectedUpdatedAt,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Nothing matched: either the canvas is absent for this owner or the
	// timestamp guard refused the write.
	current, err := r.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return nil, &StaleWriteError{Current: current}
}

func (r *canvasRepository) Delete(ctx context.Context, ownerID, id string) error {
	if !validID(id) || !validID(ownerID) {
		return pgx.ErrNoRows
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM canvases WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanCanvas(row pgx.Row) (*domain.Canvas, error) {
	var (
		canvas domain.Canvas
		nodes  []byte
		edges  []byte
	)
	if err := row.Scan(
		&canvas.ID,
		&canvas.OwnerID,
		&canvas.Name,
		&nodes,
		&edges,
		&canvas.IsDefault,
		&canvas.CreatedAt,
		&canvas.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodes, &canvas.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &canvas.Edges); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}
	canvas.CreatedAt = canvas.CreatedAt.UTC()
	canvas.UpdatedAt = canvas.UpdatedAt.UTC()
	return &canvas, nil
}

func encodeRecords(nodes, edges []json.RawMessage) (string, string, error) {
	if nodes == nil {
		nodes = []json.RawMessage{}
	}
	if edges == nil {
		edges = []json.RawMessage{}
	}
	n, err := json.Marshal(nodes)
	if err != nil {
		return "", "", fmt.Errorf("encode nodes: %w", err)
	}
	e, err := json.Marshal(edges)
	if err != nil {
		return "", "", fmt.Errorf("encode edges: %w", err)
	}
	return string(n), string(e), nil
}
