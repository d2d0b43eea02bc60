package fixtures

import (
	"sync"

	"github.com/DavidKk/tabsync/persistence"
)

// Notification is a record of one call to a NotifierStub.
type Notification struct {
	Namespace string
	Status    persistence.Status
	Message   string
}

// NotifierStub is a test implementation of the rollout.Notifier interface.
//
// It records every notification it receives.
type NotifierStub struct {
	NotifyFunc func(string, persistence.Status, string)

	m             sync.Mutex
	notifications []Notification
}

// Notify reports a status transition for a namespace.
func (n *NotifierStub) Notify(namespace string, status persistence.Status, message string) {
	n.m.Lock()
	n.notifications = append(n.notifications, Notification{namespace, status, message})
	n.m.Unlock()

	if n.NotifyFunc != nil {
		n.NotifyFunc(namespace, status, message)
	}
}

// Notifications returns a record of every notification received so far.
func (n *NotifierStub) Notifications() []Notification {
	n.m.Lock()
	defer n.m.Unlock()

	return append([]Notification(nil), n.notifications...)
}
