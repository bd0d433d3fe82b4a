package worker

import (
	"github.com/spec-kit/canvas-sync/internal/service"
)

// StartActivityWorker registers the activity handlers on the dispatcher.
func StartActivityWorker(activity *service.ActivityService) {
	if activity == nil {
		return
	}
	activity.RegisterHandlers()
}
