// Package main simulates several tabs of one installed script inside a
// single process, coordinating through a shared BoltDB store and an
// in-memory bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DavidKk/tabsync"
	"github.com/DavidKk/tabsync/bus/memorybus"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/boltstore"
	"github.com/DavidKk/tabsync/sandbox"
	"github.com/dogmatiq/dodeca/logging"
	"golang.org/x/sync/errgroup"
)

// newContext returns a cancelable context that is canceled when the process
// receives a SIGTERM or SIGINT.
func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			cancel()
		}
	}()

	return ctx, cancel
}

func main() {
	ctx, cancel := newContext()
	defer cancel()

	if err := run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Println(err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context) error {
	logger := logging.DebugLogger

	addr, err := serveArtifact(ctx)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "tabsim")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store, err := boltstore.Open(
		ctx,
		filepath.Join(dir, "tabsim.boltdb"),
		0600,
		boltstore.NewMarshaler(),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	b := memorybus.New()
	defer b.Close()

	g, ctx := errgroup.WithContext(ctx)

	var coordinators []*tabsync.Coordinator

	for i := 0; i < 3; i++ {
		id := identity.New()

		c := tabsync.New(
			tabsync.WithTabID(id),
			tabsync.WithStore(store),
			tabsync.WithBus(b),
			tabsync.WithEvaluator(&printEvaluator{id}),
			tabsync.WithNotifier(&printNotifier{id}),
			tabsync.WithLeaseTTL(10*time.Second),
			tabsync.WithLogger(logger),
			tabsync.WithNamespace(
				"tabsim",
				tabsync.WithSource("http://"+addr+"/artifact.js"),
			),
		)

		coordinators = append(coordinators, c)

		g.Go(func() error {
			return c.Run(ctx)
		})
	}

	// Give each follower a moment to start its loops, then have every tab
	// race to host the rollout. All but one become followers.
	g.Go(func() error {
		time.Sleep(500 * time.Millisecond)

		for _, c := range coordinators {
			c := c

			g.Go(func() error {
				return c.Namespace("tabsim").Trigger(ctx)
			})
		}

		return nil
	})

	return g.Wait()
}

// serveArtifact starts an HTTP server on an ephemeral port that serves a
// trivial artifact, and returns its address.
func serveArtifact(ctx context.Context) (string, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	s := &http.Server{
		Handler: http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, `notify("artifact executed")`)
			},
		),
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go s.Serve(lis)

	return lis.Addr().String(), nil
}

// printEvaluator is an evaluator that prints artifact bodies instead of
// executing them.
type printEvaluator struct {
	id identity.TabID
}

func (e *printEvaluator) Evaluate(
	ctx context.Context,
	body string,
	scope map[string]sandbox.Capability,
) error {
	fmt.Printf("tab %s: execute %q\n", shortID(e.id), body)
	return nil
}

// printNotifier is a notifier that prints status transitions.
type printNotifier struct {
	id identity.TabID
}

func (n *printNotifier) Notify(
	namespace string,
	status persistence.Status,
	message string,
) {
	fmt.Printf(
		"tab %s: namespace %s is %s %s\n",
		shortID(n.id),
		namespace,
		status,
		message,
	)
}

// shortID returns an abbreviated representation of a tab identity.
func shortID(id identity.TabID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}
