package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/internal/events"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newCanvasService(now func() time.Time) (*CanvasService, *recordedEvents) {
	store := repository.NewMemoryStore(now)
	dispatcher := events.NewInMemoryDispatcher()
	rec := &recordedEvents{}
	for _, t := range []events.EventType{
		events.EventCanvasCreated, events.EventCanvasSaved,
		events.EventCanvasConflict, events.EventCanvasDeleted,
	} {
		dispatcher.Subscribe(t, rec.handle)
	}
	return NewCanvasService(store.Canvases(), dispatcher, nil), rec
}

func raw(records ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = json.RawMessage(r)
	}
	return out
}

func millis(ms int64) *time.Time {
	t := domain.FromMillis(ms)
	return &t
}

func TestCreateSeedsCoreNodeAndDefaultName(t *testing.T) {
	svc, rec := newCanvasService(nil)
	blank := "   "

	canvas, err := svc.Create(context.Background(), "owner", CreateCanvasInput{Name: &blank})
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultCanvasName, canvas.Name)
	assert.Equal(t, domain.SeedNodes(), canvas.Nodes)
	assert.NotNil(t, canvas.Edges)
	assert.Empty(t, canvas.Edges)
	assert.Equal(t, []events.EventType{events.EventCanvasCreated}, rec.types())
}

func TestSaveRejectsMissingNodes(t *testing.T) {
	svc, _ := newCanvasService(nil)
	canvas, err := svc.Create(context.Background(), "owner", CreateCanvasInput{})
	require.NoError(t, err)

	_, err = svc.Save(context.Background(), "owner", canvas.ID, domain.SyncAttempt{Edges: raw()})
	require.Error(t, err)
	domainErr := errorutil.ToDomainError(err)
	assert.Equal(t, errorutil.CodeValidation, domainErr.Code)
	assert.Equal(t, "nodes", domainErr.Field())
}

func TestSaveStaleAttemptReturnsServerState(t *testing.T) {
	svc, rec := newCanvasService(func() time.Time { return time.UnixMilli(5000) })
	ctx := context.Background()
	canvas, err := svc.Create(ctx, "owner", CreateCanvasInput{Nodes: raw(`{"id":"server"}`)})
	require.NoError(t, err)
	require.Equal(t, int64(5000), canvas.UpdatedAt.UnixMilli())

	result, err := svc.Save(ctx, "owner", canvas.ID, domain.SyncAttempt{
		Nodes:             raw(`{"id":"client"}`),
		ExpectedUpdatedAt: millis(4000),
	})
	require.NoError(t, err)
	assert.True(t, result.Conflict)
	assert.Equal(t, int64(5000), result.Canvas.UpdatedAt.UnixMilli())
	assert.Equal(t, raw(`{"id":"server"}`), result.Canvas.Nodes)

	stored, err := svc.Get(ctx, "owner", canvas.ID)
	require.NoError(t, err)
	assert.Equal(t, raw(`{"id":"server"}`), stored.Nodes)
	assert.Contains(t, rec.types(), events.EventCanvasConflict)
}

func TestSaveZeroTimestampIsStale(t *testing.T) {
	svc, _ := newCanvasService(func() time.Time { return time.UnixMilli(5000) })
	canvas, err := svc.Create(context.Background(), "owner", CreateCanvasInput{})
	require.NoError(t, err)

	result, err := svc.Save(context.Background(), "owner", canvas.ID, domain.SyncAttempt{
		Nodes:             raw(),
		ExpectedUpdatedAt: millis(0),
	})
	require.NoError(t, err)
	assert.True(t, result.Conflict)
}

func TestSaveEqualTimestampAccepted(t *testing.T) {
	svc, rec := newCanvasService(func() time.Time { return time.UnixMilli(5000) })
	ctx := context.Background()
	canvas, err := svc.Create(ctx, "owner", CreateCanvasInput{})
	require.NoError(t, err)

	name := "  renamed "
	result, err := svc.Save(ctx, "owner", canvas.ID, domain.SyncAttempt{
		Name:              &name,
		Nodes:             raw(`{"id":"a"}`, `{"id":"b"}`),
		ExpectedUpdatedAt: millis(5000),
	})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, "renamed", result.Canvas.Name)
	assert.Len(t, result.Canvas.Nodes, 2)
	assert.Empty(t, result.Canvas.Edges)
	assert.True(t, result.Canvas.UpdatedAt.After(canvas.UpdatedAt))
	assert.Contains(t, rec.types(), events.EventCanvasSaved)

	// The accepted timestamp is the new baseline.
	again, err := svc.Save(ctx, "owner", canvas.ID, domain.SyncAttempt{
		Nodes:             raw(),
		ExpectedUpdatedAt: &result.Canvas.UpdatedAt,
	})
	require.NoError(t, err)
	assert.False(t, again.Conflict)
}

func TestSaveUnknownCanvasIsNotFound(t *testing.T) {
	svc, _ := newCanvasService(nil)

	_, err := svc.Save(context.Background(), "owner", "missing", domain.SyncAttempt{Nodes: raw()})
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))

	_, err = svc.Get(context.Background(), "owner", "missing")
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))

	err = svc.Delete(context.Background(), "owner", "missing")
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))
}

func TestOtherOwnersCanvasIsInvisible(t *testing.T) {
	svc, _ := newCanvasService(nil)
	ctx := context.Background()
	canvas, err := svc.Create(ctx, "alice", CreateCanvasInput{})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "bob", canvas.ID)
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))

	_, err = svc.Save(ctx, "bob", canvas.ID, domain.SyncAttempt{Nodes: raw()})
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))

	list, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestGetDefaultCreatesSeededCanvasOnce(t *testing.T) {
	svc, rec := newCanvasService(nil)
	ctx := context.Background()

	first, err := svc.GetDefault(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.FirstCanvasName, first.Name)
	assert.Equal(t, domain.SeedNodes(), first.Nodes)

	second, err := svc.GetDefault(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []events.EventType{events.EventCanvasCreated}, rec.types())
}

func TestSaveDefaultCreatesFromFirstAttempt(t *testing.T) {
	svc, _ := newCanvasService(func() time.Time { return time.UnixMilli(9000) })
	ctx := context.Background()

	result, err := svc.SaveDefault(ctx, "owner", domain.SyncAttempt{
		Nodes:             raw(`{"id":"mine"}`),
		ExpectedUpdatedAt: millis(1),
	})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, raw(`{"id":"mine"}`), result.Canvas.Nodes)
	assert.True(t, result.Canvas.IsDefault)

	stale, err := svc.SaveDefault(ctx, "owner", domain.SyncAttempt{
		Nodes:             raw(),
		ExpectedUpdatedAt: millis(1),
	})
	require.NoError(t, err)
	assert.True(t, stale.Conflict)
	assert.Equal(t, result.Canvas.ID, stale.Canvas.ID)
}

func TestDeleteRemovesCanvas(t *testing.T) {
	svc, rec := newCanvasService(nil)
	ctx := context.Background()
	canvas, err := svc.Create(ctx, "owner", CreateCanvasInput{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "owner", canvas.ID))
	_, err = svc.Get(ctx, "owner", canvas.ID)
	assert.True(t, errorutil.HasStatus(err, http.StatusNotFound))
	assert.Contains(t, rec.types(), events.EventCanvasDeleted)
}
