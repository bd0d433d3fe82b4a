package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/events"
	"github.com/spec-kit/canvas-sync/internal/observability"
)

// ActivityService turns domain events into structured log lines and sync
// outcome metrics.
type ActivityService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewActivityService creates the service. metrics may be nil.
func NewActivityService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (a *ActivityService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventCanvasCreated, a.handleCanvasWrite)
	a.dispatcher.Subscribe(events.EventCanvasSaved, a.handleCanvasWrite)
	a.dispatcher.Subscribe(events.EventCanvasConflict, a.handleCanvasConflict)
	a.dispatcher.Subscribe(events.EventCanvasDeleted, a.handleCanvasWrite)
	a.dispatcher.Subscribe(events.EventUserSignedUp, a.handleUserSignedUp)
}

func (a *ActivityService) handleCanvasWrite(_ context.Context, event events.Event) error {
	a.metrics.RecordSync(outcomeLabel(event.Type))
	a.logger.Info("canvas write",
		zap.String("event", string(event.Type)),
		zap.String("owner_id", event.OwnerID),
		zap.String("canvas_id", event.CanvasID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *ActivityService) handleCanvasConflict(_ context.Context, event events.Event) error {
	a.metrics.RecordSync(outcomeLabel(event.Type))
	fields := []zap.Field{
		zap.String("owner_id", event.OwnerID),
		zap.String("canvas_id", event.CanvasID),
	}
	if p, ok := event.Payload.(events.CanvasWritePayload); ok {
		fields = append(fields, zap.Time("server_updated_at", p.UpdatedAt))
		if p.ClientUpdatedAt != nil {
			fields = append(fields, zap.Time("client_updated_at", *p.ClientUpdatedAt))
		}
	}
	a.logger.Warn("canvas write refused as stale", fields...)
	return nil
}

func (a *ActivityService) handleUserSignedUp(_ context.Context, event events.Event) error {
	a.metrics.RecordAuth("signup", true)
	a.logger.Info("user signed up",
		zap.String("owner_id", event.OwnerID),
		zap.String("default_canvas_id", event.CanvasID))
	return nil
}

// outcomeLabel maps canvas_saved to saved and so on.
func outcomeLabel(t events.EventType) string {
	return strings.TrimPrefix(string(t), "canvas_")
}

// publish stamps and dispatches an event. Handler failures never fail the
// operation that emitted the event.
func publish(ctx context.Context, d events.Dispatcher, logger *zap.Logger, event events.Event) {
	if d == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	if err := d.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}
