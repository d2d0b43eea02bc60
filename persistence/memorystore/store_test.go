package memorystore_test

import (
	"context"
	"sync"
	"time"

	"github.com/DavidKk/tabsync/persistence"
	. "github.com/DavidKk/tabsync/persistence/memorystore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Store", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		store  *Store
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)
		store = New()
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Get()", func() {
		It("reports that an unwritten key has no value", func() {
			_, ok, err := store.Get(ctx, "<key>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("returns the most recently written value", func() {
			expect := persistence.Record{
				Host:         "<tab>",
				LastModified: 100,
			}

			err := store.Set(ctx, "<key>", expect)
			Expect(err).ShouldNot(HaveOccurred())

			rec, ok, err := store.Get(ctx, "<key>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec).To(Equal(expect))
		})

		It("returns a copy that does not alias the stored value", func() {
			err := store.Set(ctx, "<key>", persistence.Record{
				Files: map[string]string{
					"index.js": "alert(1)",
				},
			})
			Expect(err).ShouldNot(HaveOccurred())

			rec, _, err := store.Get(ctx, "<key>")
			Expect(err).ShouldNot(HaveOccurred())

			rec.Files["index.js"] = "alert(2)"

			rec, _, err = store.Get(ctx, "<key>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Files["index.js"]).To(Equal("alert(1)"))
		})
	})

	Describe("func Subscribe()", func() {
		It("notifies the subscriber of each change in write order", func() {
			var (
				m        sync.Mutex
				versions []int64
			)

			sub, err := store.Subscribe(
				"<key>",
				func(_, next persistence.Record) {
					m.Lock()
					defer m.Unlock()

					versions = append(versions, next.LastModified)
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Close()

			for v := int64(1); v <= 3; v++ {
				err := store.Set(ctx, "<key>", persistence.Record{
					LastModified: v,
				})
				Expect(err).ShouldNot(HaveOccurred())
			}

			Eventually(func() []int64 {
				m.Lock()
				defer m.Unlock()

				return append([]int64(nil), versions...)
			}).Should(Equal([]int64{1, 2, 3}))
		})

		It("passes the previous value to the handler", func() {
			prevs := make(chan persistence.Record, 1)

			err := store.Set(ctx, "<key>", persistence.Record{
				LastModified: 1,
			})
			Expect(err).ShouldNot(HaveOccurred())

			sub, err := store.Subscribe(
				"<key>",
				func(prev, _ persistence.Record) {
					prevs <- prev
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Close()

			err = store.Set(ctx, "<key>", persistence.Record{
				LastModified: 2,
			})
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(prevs).Should(Receive(
				Equal(persistence.Record{LastModified: 1}),
			))
		})

		It("does not notify the subscriber of changes to other keys", func() {
			notified := make(chan struct{}, 1)

			sub, err := store.Subscribe(
				"<key>",
				func(_, _ persistence.Record) {
					notified <- struct{}{}
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Close()

			err = store.Set(ctx, "<other-key>", persistence.Record{
				LastModified: 1,
			})
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(notified).ShouldNot(Receive())
		})

		It("does not notify the subscriber after the subscription is closed", func() {
			notified := make(chan struct{}, 1)

			sub, err := store.Subscribe(
				"<key>",
				func(_, _ persistence.Record) {
					notified <- struct{}{}
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			sub.Close()

			err = store.Set(ctx, "<key>", persistence.Record{
				LastModified: 1,
			})
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(notified).ShouldNot(Receive())
		})
	})

	Describe("func Close()", func() {
		It("causes subsequent operations to fail", func() {
			err := store.Close()
			Expect(err).ShouldNot(HaveOccurred())

			_, _, err = store.Get(ctx, "<key>")
			Expect(err).To(Equal(persistence.ErrStoreClosed))

			err = store.Set(ctx, "<key>", persistence.Record{})
			Expect(err).To(Equal(persistence.ErrStoreClosed))

			_, err = store.Subscribe("<key>", nil)
			Expect(err).To(Equal(persistence.ErrStoreClosed))
		})

		It("returns an error if the store is already closed", func() {
			store.Close()

			err := store.Close()
			Expect(err).To(Equal(persistence.ErrStoreClosed))
		})
	})
})
