// Package localfs distributes artifacts compiled from a watched local
// directory.
//
// Only the tab that started watching may write the distribution record; it
// holds the namespace's host lease for the duration of the watch.
package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/lease"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/fsnotify/fsnotify"
)

// DefaultInterval is the default polling interval for the watched directory.
//
// It is overridden by the Watcher.Interval field.
const DefaultInterval = 5 * time.Second

// ErrLeaseHeld is returned when a watch cannot start because another tab
// already hosts the namespace.
var ErrLeaseHeld = fmt.Errorf("namespace is already hosted by another tab")

// Watcher polls a directory for source changes, recompiles when at least one
// watched file's modification time has changed, and distributes the compiled
// artifact through the shared record.
type Watcher struct {
	// Namespace is the namespace the artifact is distributed under.
	Namespace string

	// TabID is the identity of the tab this watcher acts for.
	TabID identity.TabID

	// Dir is the directory to watch.
	Dir string

	// Interval is the polling interval.
	// If it is zero, DefaultInterval is used.
	Interval time.Duration

	// Compiler turns the watched sources into an executable artifact.
	Compiler artifact.Compiler

	// Store is the durable store carrying the distribution record.
	Store persistence.Store

	// Bus is the ephemeral bus advised after each durable write.
	// It may be nil.
	Bus bus.Bus

	// Lease manages the host lease for the namespace.
	Lease *lease.Manager

	// BackoffStrategy is the strategy used to delay retrying a distribution
	// after a store failure. If it is nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages about the watch.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	lastModified time.Time
}

// Run watches the directory until ctx is canceled.
//
// It returns ErrLeaseHeld if another tab already hosts the namespace.
func (w *Watcher) Run(ctx context.Context) error {
	acquired, err := w.Lease.Acquire(ctx)
	if err != nil {
		return err
	}

	if !acquired {
		return fmt.Errorf(
			"unable to watch %s for %s: %w",
			w.Dir,
			w.Namespace,
			ErrLeaseHeld,
		)
	}

	defer func() {
		// The watch is over; releasing promptly matters more than the parent
		// context, which is typically already canceled by now.
		ctx, cancel := linger.ContextWithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		w.Lease.Release(ctx)
	}()

	// Filesystem events only shorten the latency between a save and the next
	// check; the mtime poll below is what detection correctness rests on.
	nudge := make(chan struct{}, 1)

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsw.Close()

		if err := fsw.Add(w.Dir); err != nil {
			logging.Debug(
				w.Logger,
				"[%s] unable to watch %s for filesystem events: %s",
				w.Namespace,
				w.Dir,
				err,
			)
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-fsw.Events:
					if !ok {
						return
					}

					select {
					case nudge <- struct{}{}:
					default:
					}
				case _, ok := <-fsw.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	}

	logging.Log(
		w.Logger,
		"[%s] watching %s",
		w.Namespace,
		w.Dir,
	)

	interval := linger.MustCoalesce(w.Interval, DefaultInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// A store failure is retried rather than ending the watch; the developer
	// expects the loop to outlive transient errors.
	counter := backoff.Counter{
		Strategy: w.BackoffStrategy,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-nudge:
		}

		if err := w.check(ctx); err != nil {
			delay := counter.Fail(err)

			logging.Log(
				w.Logger,
				"[%s] unable to distribute, retrying in %s: %s",
				w.Namespace,
				delay,
				err,
			)

			if err := linger.Sleep(ctx, delay); err != nil {
				return err
			}

			continue
		}

		counter.Reset()
	}
}

// check recompiles and redistributes if any watched file changed since the
// previous check.
//
// A compilation failure suppresses the write entirely; there is no rollout
// audience to inform beyond this tab, and the previous artifact must keep
// running.
func (w *Watcher) check(ctx context.Context) error {
	files, modified, err := w.scan()
	if err != nil {
		logging.Log(
			w.Logger,
			"[%s] unable to scan %s: %s",
			w.Namespace,
			w.Dir,
			err,
		)

		return nil
	}

	if !modified.After(w.lastModified) {
		return nil
	}

	prev := w.lastModified
	w.lastModified = modified

	art, err := w.Compiler.Compile(ctx, files)
	if err != nil {
		cerr := &artifact.CompilationError{Cause: err}

		logging.Log(
			w.Logger,
			"[%s] %s",
			w.Namespace,
			cerr,
		)

		return nil
	}

	if !art.OK() {
		logging.Log(
			w.Logger,
			"[%s] compiler produced an empty artifact, keeping previous version",
			w.Namespace,
		)

		return nil
	}

	if err := w.Lease.Renew(ctx); err != nil {
		w.lastModified = prev
		return err
	}

	if err := w.distribute(ctx, art); err != nil {
		// The change is not yet distributed; make the retry see it again.
		w.lastModified = prev
		return err
	}

	return nil
}

// distribute writes the compiled artifact to the shared record and advises
// the bus.
func (w *Watcher) distribute(ctx context.Context, art artifact.Artifact) error {
	key := persistence.RecordKey(w.Namespace)

	// Whole-value replace: merge onto the current record rather than
	// patching, so concurrent fields are never silently dropped.
	rec, _, err := w.Store.Get(ctx, key)
	if err != nil {
		return err
	}

	rec.Host = w.TabID
	rec.LastModified = persistence.Now()
	rec.Status = persistence.StatusNone
	rec.Error = ""
	rec.CompiledContent = art.Content
	rec.Files = art.Files

	if err := w.Store.Set(ctx, key, rec); err != nil {
		return err
	}

	logging.Log(
		w.Logger,
		"[%s] distributed artifact %d (%d bytes)",
		w.Namespace,
		rec.LastModified,
		len(art.Content),
	)

	if w.Bus != nil {
		if err := w.Bus.Post(ctx, bus.Message{
			Type:            bus.MessageWatchUpdate,
			Host:            w.TabID,
			Timestamp:       rec.LastModified,
			Namespace:       w.Namespace,
			CompiledContent: art.Content,
		}); err != nil {
			logging.Debug(
				w.Logger,
				"[%s] unable to post to bus: %s",
				w.Namespace,
				err,
			)
		}
	}

	return nil
}

// scan walks the watched directory and returns the watched sources and the
// most recent modification time among them.
//
// Hidden files and directories are ignored.
func (w *Watcher) scan() (map[string]string, time.Time, error) {
	files := map[string]string{}

	var modified time.Time

	err := filepath.WalkDir(
		w.Dir,
		func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if strings.HasPrefix(entry.Name(), ".") && path != w.Dir {
				if entry.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if entry.IsDir() {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			if info.ModTime().After(modified) {
				modified = info.ModTime()
			}

			rel, err := filepath.Rel(w.Dir, path)
			if err != nil {
				return err
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			files[rel] = string(content)

			return nil
		},
	)
	if err != nil {
		return nil, time.Time{}, err
	}

	return files, modified, nil
}
