// Package editor distributes artifacts produced by the editor surface.
//
// The editor variant uses a two-phase hand-off: every open tab learns about a
// new artifact over the ephemeral bus first, but only the designated editor
// surface may persist it to the durable store. Non-editor tabs wait for the
// durable notification instead of persisting themselves, which prevents every
// open tab from racing to write the same record.
package editor

import (
	"context"
	"fmt"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/dodeca/logging"
)

// Host publishes artifacts on behalf of the editor surface tab.
type Host struct {
	// Namespace is the namespace the artifact is distributed under.
	Namespace string

	// TabID is the identity of the editor surface tab.
	TabID identity.TabID

	// Store is the durable store carrying the distribution record.
	Store persistence.Store

	// Bus is the ephemeral bus advised before each durable write.
	// It may be nil.
	Bus bus.Bus

	// Logger is the target for log messages about published artifacts.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Publish broadcasts a newly compiled artifact, then persists it.
//
// The bus copy goes out first so open tabs can show progress immediately;
// the durable write that follows is what actually triggers application.
func (h *Host) Publish(ctx context.Context, art artifact.Artifact) error {
	if !art.OK() {
		return &artifact.CompilationError{
			Cause: fmt.Errorf("artifact is empty"),
		}
	}

	now := persistence.Now()

	if h.Bus != nil {
		if err := h.Bus.Post(ctx, bus.Message{
			Type:            bus.MessageEditorUpdate,
			Host:            h.TabID,
			Timestamp:       now,
			Namespace:       h.Namespace,
			CompiledContent: art.Content,
		}); err != nil {
			logging.Debug(
				h.Logger,
				"[%s] unable to post to bus: %s",
				h.Namespace,
				err,
			)
		}
	}

	key := persistence.RecordKey(h.Namespace)

	rec, _, err := h.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	rec.Host = h.TabID
	rec.LastModified = now
	rec.Status = persistence.StatusNone
	rec.Error = ""
	rec.CompiledContent = art.Content
	rec.Files = art.Files

	if err := h.Store.Set(ctx, key, rec); err != nil {
		return err
	}

	logging.Log(
		h.Logger,
		"[%s] published artifact %d (%d bytes)",
		h.Namespace,
		now,
		len(art.Content),
	)

	return nil
}

// Follower observes editor updates on behalf of a non-editor tab.
//
// A follower NEVER writes the durable store, no matter how delayed the
// editor's own write is; it only surfaces that an update is in flight. The
// durable notification that eventually follows is consumed by the devmode
// applier like any other distribution record.
type Follower struct {
	// Namespace is the namespace to observe.
	Namespace string

	// TabID is the identity of the tab this follower acts for.
	TabID identity.TabID

	// Bus is the ephemeral bus carrying editor updates.
	Bus bus.Bus

	// Logger is the target for log messages about in-flight updates.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Run observes editor updates until ctx is canceled.
func (f *Follower) Run(ctx context.Context) error {
	sub, err := f.Bus.Subscribe(func(m bus.Message) {
		if m.Type != bus.MessageEditorUpdate {
			return
		}

		if m.Namespace != f.Namespace || m.Host == f.TabID {
			return
		}

		logging.Debug(
			f.Logger,
			"[%s] editor %s is distributing an update, awaiting durable record",
			f.Namespace,
			m.Host,
		)
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()

	return ctx.Err()
}
