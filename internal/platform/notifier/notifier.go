package notifier

import (
	"context"
	"log/slog"

	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/middleware"
)

// slogDispatcher is the default NotificationDispatcher: it records each
// business event in the structured log. The external notification system
// consumes these events out of band; delivery is explicitly out of scope here,
// so a failed delivery can never affect the financial work that triggered it.
type slogDispatcher struct{}

// NewSlogDispatcher creates a dispatcher that logs notifications.
func NewSlogDispatcher() portssvc.NotificationDispatcher {
	return &slogDispatcher{}
}

// Ensure slogDispatcher implements the portssvc.NotificationDispatcher interface
var _ portssvc.NotificationDispatcher = (*slogDispatcher)(nil)

func (d *slogDispatcher) Dispatch(ctx context.Context, n portssvc.Notification) {
	middleware.GetLoggerFromCtx(ctx).Info("Notification dispatched",
		slog.String("event", string(n.Event)),
		slog.String("node_id", n.NodeID),
		slog.String("message", n.Message),
	)
}
