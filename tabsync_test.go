package tabsync_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/DavidKk/tabsync"
	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus/memorybus"
	"github.com/DavidKk/tabsync/fixtures"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/persistence/memorystore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Coordinator", func() {
	var (
		ctx         context.Context
		cancel      context.CancelFunc
		evaluator   *fixtures.EvaluatorStub
		coordinator *Coordinator
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		evaluator = &fixtures.EvaluatorStub{}

		coordinator = New(
			WithTabID("<tab>"),
			WithEvaluator(evaluator),
		)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Namespace()", func() {
		It("returns the same handle for the same name", func() {
			a := coordinator.Namespace("<ns>")
			b := coordinator.Namespace("<ns>")

			Expect(a).To(BeIdenticalTo(b))
		})

		It("returns distinct handles for distinct names", func() {
			a := coordinator.Namespace("<ns-a>")
			b := coordinator.Namespace("<ns-b>")

			Expect(a).NotTo(BeIdenticalTo(b))
		})

		It("returns handles for namespaces registered at construction", func() {
			c := New(
				WithEvaluator(evaluator),
				WithNamespace("<ns>", WithSource("<url>")),
			)

			ns := c.Namespace("<ns>")
			Expect(ns.Name()).To(Equal("<ns>"))
		})
	})

	Describe("func Run()", func() {
		It("returns when the context is canceled", func() {
			runCtx, stop := context.WithCancel(ctx)

			result := make(chan error, 1)
			go func() {
				result <- coordinator.Run(runCtx)
			}()

			stop()

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(err).To(Equal(context.Canceled))
		})

		It("drives namespaces registered after Run has started", func() {
			store := memorystore.New()
			defer store.Close()

			c := New(
				WithTabID("<tab>"),
				WithStore(store),
				WithEvaluator(evaluator),
			)

			runCtx, stop := context.WithCancel(ctx)
			defer stop()

			go c.Run(runCtx)
			time.Sleep(50 * time.Millisecond)

			c.Namespace("<late-ns>")
			time.Sleep(50 * time.Millisecond)

			err := store.Set(ctx, persistence.RecordKey("<late-ns>"), persistence.Record{
				Host:            "<producer>",
				LastModified:    persistence.Now(),
				CompiledContent: "alert(1)",
			})
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(evaluator.Executions).Should(HaveLen(1))
			Expect(evaluator.Executions()[0].Body).To(Equal("alert(1)"))
		})

		It("distributes an artifact to every simulated tab", func() {
			s := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					if r.Method != http.MethodHead {
						w.Write([]byte("alert(1)"))
					}
				},
			))
			defer s.Close()

			store := memorystore.New()
			defer store.Close()

			b := &memorybus.Bus{}
			defer b.Close()

			host := New(
				WithTabID("<host>"),
				WithStore(store),
				WithBus(b),
				WithEvaluator(evaluator),
				WithNamespace("<ns>", WithSource(s.URL)),
			)

			follower := New(
				WithTabID("<follower>"),
				WithStore(store),
				WithBus(b),
				WithEvaluator(evaluator),
				WithNamespace("<ns>", WithSource(s.URL)),
			)

			runCtx, stop := context.WithCancel(ctx)
			defer stop()

			go host.Run(runCtx)
			go follower.Run(runCtx)
			time.Sleep(50 * time.Millisecond)

			err := host.Namespace("<ns>").Trigger(runCtx)
			Expect(err).ShouldNot(HaveOccurred())

			// The host executes the body it downloaded; the follower fetches
			// and executes it independently.
			Eventually(evaluator.Executions).Should(HaveLen(2))
			for _, x := range evaluator.Executions() {
				Expect(x.Body).To(Equal("alert(1)"))
			}
		})
	})
})

var _ = Describe("type Namespace", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Publish()", func() {
		It("returns an error if the tab is not the editor surface", func() {
			c := New(
				WithEvaluator(&fixtures.EvaluatorStub{}),
			)

			err := c.Namespace("<ns>").Publish(ctx, artifact.Artifact{
				Content: "alert(1)",
			})
			Expect(err).Should(HaveOccurred())
		})

		It("persists the artifact if the tab is the editor surface", func() {
			store := memorystore.New()
			defer store.Close()

			c := New(
				WithTabID("<editor>"),
				WithStore(store),
				WithEvaluator(&fixtures.EvaluatorStub{}),
				WithNamespace("<ns>", WithEditorSurface()),
			)

			err := c.Namespace("<ns>").Publish(ctx, artifact.Artifact{
				Content: "alert(1)",
			})
			Expect(err).ShouldNot(HaveOccurred())

			rec, ok, err := store.Get(ctx, "<ns>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.CompiledContent).To(Equal("alert(1)"))
		})
	})
})
