package editor_test

import (
	"context"
	"errors"
	"time"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	. "github.com/DavidKk/tabsync/devmode/editor"
	"github.com/DavidKk/tabsync/fixtures"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/persistence"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Host", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		store  *fixtures.StoreStub
		b      *fixtures.BusStub
		host   *Host
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		store = fixtures.NewStoreStub()
		b = fixtures.NewBusStub()

		host = &Host{
			Namespace: "<ns>",
			TabID:     "<editor>",
			Store:     store,
			Bus:       b,
		}
	})

	AfterEach(func() {
		b.Close()
		cancel()
	})

	Describe("func Publish()", func() {
		It("persists the artifact to the durable store", func() {
			err := host.Publish(ctx, artifact.Artifact{
				Content: "alert(1)",
				Files: map[string]string{
					"index.js": "alert(1)",
				},
			})
			Expect(err).ShouldNot(HaveOccurred())

			rec, ok, err := store.Get(ctx, persistence.RecordKey("<ns>"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.Host).To(Equal(identity.TabID("<editor>")))
			Expect(rec.CompiledContent).To(Equal("alert(1)"))
		})

		It("broadcasts over the bus before persisting", func() {
			b.PostFunc = func(ctx context.Context, m bus.Message) error {
				Expect(m.Type).To(Equal(bus.MessageEditorUpdate))

				// The durable write must not have happened yet.
				_, ok, err := store.Get(ctx, persistence.RecordKey("<ns>"))
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeFalse())

				return nil
			}

			err := host.Publish(ctx, artifact.Artifact{
				Content: "alert(1)",
			})
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("rejects an empty artifact", func() {
			err := host.Publish(ctx, artifact.Artifact{})

			var cerr *artifact.CompilationError
			Expect(errors.As(err, &cerr)).To(BeTrue())

			_, ok, gerr := store.Get(ctx, persistence.RecordKey("<ns>"))
			Expect(gerr).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("type Follower", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		store    *fixtures.StoreStub
		b        *fixtures.BusStub
		follower *Follower
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		store = fixtures.NewStoreStub()
		b = fixtures.NewBusStub()

		follower = &Follower{
			Namespace: "<ns>",
			TabID:     "<tab>",
			Bus:       b,
		}
	})

	AfterEach(func() {
		b.Close()
		cancel()
	})

	Describe("func Run()", func() {
		It("never writes the durable store, even while an update is in flight", func() {
			go follower.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			// An editor announces an update but is slow to persist it.
			err := b.Post(ctx, bus.Message{
				Type:            bus.MessageEditorUpdate,
				Host:            "<editor>",
				Timestamp:       persistence.Now(),
				Namespace:       "<ns>",
				CompiledContent: "alert(1)",
			})
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(func() bool {
				_, ok, err := store.Get(ctx, persistence.RecordKey("<ns>"))
				Expect(err).ShouldNot(HaveOccurred())
				return ok
			}).Should(BeFalse())
		})

		It("returns when the context is canceled", func() {
			canceledCtx, cancelNow := context.WithCancel(ctx)
			cancelNow()

			err := follower.Run(canceledCtx)
			Expect(err).To(Equal(context.Canceled))
		})
	})
})
