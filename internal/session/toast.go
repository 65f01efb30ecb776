package session

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// Toast is the production Notifier: a best-effort desktop toast,
// directly ported from the teacher's internal/notifications.ToastNotifier.
// It silently no-ops (returns nil) on non-Windows platforms rather than
// erroring, since file-claim contention warnings are advisory and must
// never surface a platform-support error to a hook's stdout contract.
type Toast struct {
	appID string
}

// NewToast constructs a Toast notifier. appID defaults to "agentcoord"
// when empty.
func NewToast(appID string) *Toast {
	if appID == "" {
		appID = "agentcoord"
	}
	return &Toast{appID: appID}
}

func (t *Toast) Notify(title, message string) error {
	if runtime.GOOS != "windows" {
		return nil
	}
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	if err := notification.Push(); err != nil {
		return fmt.Errorf("toast push: %w", err)
	}
	return nil
}
