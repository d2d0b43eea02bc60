// Package bus defines the ephemeral broadcast channel shared by the tabs
// that are currently open.
//
// The bus is purely an optimization layer. Delivery is best-effort and
// unordered with respect to durable store writes, so every consumer must
// remain correct if the bus never delivers anything.
package bus

import (
	"context"

	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
)

// Message types posted on the bus.
const (
	// MessageRollout advises that a rollout record has been (or is about to
	// be) persisted by the host.
	MessageRollout = "rollout"

	// MessageEditorUpdate advises that the editor surface has produced a new
	// artifact and will persist it shortly.
	MessageEditorUpdate = "editor-update"

	// MessageWatchUpdate advises that the local-filesystem watcher has
	// produced a new artifact.
	MessageWatchUpdate = "watch-update"
)

// Message is an advisory envelope pushed on the bus.
//
// A message is never the sole source of truth; every real transition is also
// written to the durable store.
type Message struct {
	// Type identifies the kind of message.
	Type string

	// Host is the tab that posted the message.
	Host identity.TabID

	// Timestamp is the time the message was posted, in milliseconds since the
	// Unix epoch.
	Timestamp int64

	// Namespace is the namespace the message relates to.
	Namespace string

	// Status is the rollout phase being advised, if any.
	Status persistence.Status

	// Error is a human-readable description of a failed rollout.
	Error string

	// ArtifactURL is the location of the artifact announced by a successful
	// rollout.
	ArtifactURL string

	// CompiledContent is the artifact body attached by the dev-mode variants.
	CompiledContent string
}

// Handler is a function that handles a message received from the bus.
type Handler func(Message)

// Subscription is a registration of a Handler against the bus.
type Subscription interface {
	// Close cancels the subscription.
	Close() error
}

// Bus is a best-effort fan-out channel scoped to the currently open tabs.
type Bus interface {
	// Post broadcasts a message to every subscriber, including any registered
	// by the caller's own tab.
	//
	// Delivery is not guaranteed. Post never blocks on slow subscribers.
	Post(ctx context.Context, m Message) error

	// Subscribe registers h to be invoked for messages posted to the bus.
	Subscribe(h Handler) (Subscription, error)

	// Close closes the bus, cancelling any subscriptions.
	Close() error
}
