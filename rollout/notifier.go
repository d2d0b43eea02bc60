package rollout

import "github.com/DavidKk/tabsync/persistence"

// Notifier is a sink for user-visible status transitions.
//
// Notifications are fire-and-forget; implementations must not block and are
// never required for correctness.
type Notifier interface {
	// Notify reports a status transition for a namespace.
	Notify(namespace string, status persistence.Status, message string)
}

// notify forwards a transition to n, if a notifier is configured.
func notify(n Notifier, namespace string, status persistence.Status, message string) {
	if n != nil {
		n.Notify(namespace, status, message)
	}
}
