// Package notify delivers desktop toast notifications for critical
// events, as a plain C9 subscriber rather than a privileged path.
// Grounded in the teacher's internal/notifications/toast.go
// ToastNotifier (Windows-only go-toast/toast wrapper with a no-op guard
// on other platforms).
package notify

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/presidium/orchestrator/internal/events"
)

// criticalTypes are the event types worth interrupting the operator
// for; everything else only appears on the dashboard feed.
var criticalTypes = []events.Type{
	events.UsageLimitReached,
	events.AutoRecoveryFailed,
	events.EmergencyStopCompleted,
}

// Notifier subscribes to the event bus and raises a toast for critical
// events.
type Notifier struct {
	appID        string
	dashboardURL string
}

// New constructs a Notifier. On non-Windows platforms Push is a no-op,
// matching the teacher's own IsSupported guard.
func New(appID, dashboardURL string) *Notifier {
	if appID == "" {
		appID = "orchestrator"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &Notifier{appID: appID, dashboardURL: dashboardURL}
}

// IsSupported reports whether toast delivery works on this platform.
func (n *Notifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}

// Push raises a toast notification; a no-op error on unsupported
// platforms rather than a panic.
func (n *Notifier) Push(title, message string) error {
	if !n.IsSupported() {
		return fmt.Errorf("toast notifications only supported on Windows")
	}

	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: n.dashboardURL},
		},
	}
	return notification.Push()
}

// Run subscribes to TargetAll and pushes a toast for every critical
// event until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) error {
	ch, unsubscribe, err := bus.Subscribe(events.TargetAll, criticalTypes)
	if err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			title, message := formatToast(evt)
			if err := n.Push(title, message); err != nil {
				log.Printf("[NOTIFY] toast delivery skipped: %v", err)
			}
		}
	}
}

func formatToast(evt events.Event) (string, string) {
	switch evt.Type {
	case events.UsageLimitReached:
		return "Usage limit reached", "Task dispatch is paused until the limit window clears."
	case events.AutoRecoveryFailed:
		return "Auto-recovery failed", "The health supervisor could not restore a critical session."
	case events.EmergencyStopCompleted:
		return "Emergency stop completed", "All agents were interrupted and in-flight tasks reverted."
	default:
		return string(evt.Type), evt.Target
	}
}
