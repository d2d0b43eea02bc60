package localfs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/DavidKk/tabsync/artifact"
	"github.com/DavidKk/tabsync/bus"
	. "github.com/DavidKk/tabsync/devmode/localfs"
	"github.com/DavidKk/tabsync/fixtures"
	"github.com/DavidKk/tabsync/identity"
	"github.com/DavidKk/tabsync/lease"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Watcher", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		dir      string
		store    *fixtures.StoreStub
		b        *fixtures.BusStub
		compiler *fixtures.CompilerStub
		watcher  *Watcher
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		var err error
		dir, err = os.MkdirTemp("", "localfs")
		Expect(err).ShouldNot(HaveOccurred())

		store = fixtures.NewStoreStub()
		b = fixtures.NewBusStub()
		compiler = &fixtures.CompilerStub{}

		watcher = &Watcher{
			Namespace: "<ns>",
			TabID:     "<tab>",
			Dir:       dir,
			Interval:  10 * time.Millisecond,
			Compiler:  compiler,
			Store:     store,
			Bus:       b,
			Lease: &lease.Manager{
				Store:     store,
				Namespace: "<ns>",
				TabID:     "<tab>",
			},
		}
	})

	AfterEach(func() {
		b.Close()
		os.RemoveAll(dir)
		cancel()
	})

	write := func(name, content string) {
		err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600)
		Expect(err).ShouldNot(HaveOccurred())
	}

	touch := func(name string, t time.Time) {
		err := os.Chtimes(filepath.Join(dir, name), t, t)
		Expect(err).ShouldNot(HaveOccurred())
	}

	record := func() persistence.Record {
		rec, _, err := store.Get(ctx, persistence.RecordKey("<ns>"))
		Expect(err).ShouldNot(HaveOccurred())
		return rec
	}

	Describe("func Run()", func() {
		It("distributes the compiled artifact when a source changes", func() {
			write("index.js", "alert(1)")

			go watcher.Run(ctx)

			Eventually(func() string {
				return record().CompiledContent
			}).Should(Equal("alert(1)"))

			rec := record()
			Expect(rec.Host).To(Equal(identity.TabID("<tab>")))
			Expect(rec.Files).To(Equal(map[string]string{
				"index.js": "alert(1)",
			}))
		})

		It("redistributes when a source is modified again", func() {
			write("index.js", "alert(1)")

			go watcher.Run(ctx)

			Eventually(func() string {
				return record().CompiledContent
			}).Should(Equal("alert(1)"))

			write("index.js", "alert(2)")
			touch("index.js", time.Now().Add(1*time.Second))

			Eventually(func() string {
				return record().CompiledContent
			}).Should(Equal("alert(2)"))
		})

		It("does not redistribute if nothing changed", func() {
			write("index.js", "alert(1)")

			go watcher.Run(ctx)

			Eventually(func() string {
				return record().CompiledContent
			}).Should(Equal("alert(1)"))

			version := record().LastModified

			Consistently(func() int64 {
				return record().LastModified
			}).Should(Equal(version))
		})

		It("ignores hidden files", func() {
			write("index.js", "alert(1)")
			write(".secret", "alert(2)")

			go watcher.Run(ctx)

			Eventually(func() map[string]string {
				return record().Files
			}).Should(Equal(map[string]string{
				"index.js": "alert(1)",
			}))
		})

		It("advises the bus after distributing", func() {
			messages := make(chan bus.Message, 1)

			sub, err := b.Subscribe(func(m bus.Message) {
				messages <- m
			})
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Close()

			write("index.js", "alert(1)")

			go watcher.Run(ctx)

			var m bus.Message
			Eventually(messages).Should(Receive(&m))
			Expect(m.Type).To(Equal(bus.MessageWatchUpdate))
			Expect(m.CompiledContent).To(Equal("alert(1)"))
		})

		When("compilation fails", func() {
			It("keeps the previous record intact", func() {
				write("index.js", "alert(1)")

				go watcher.Run(ctx)

				Eventually(func() string {
					return record().CompiledContent
				}).Should(Equal("alert(1)"))

				compiler.CompileFunc = func(
					context.Context,
					map[string]string,
				) (artifact.Artifact, error) {
					return artifact.Artifact{}, errors.New("<error>")
				}

				write("index.js", "alert(")
				touch("index.js", time.Now().Add(1*time.Second))

				Consistently(func() string {
					return record().CompiledContent
				}).Should(Equal("alert(1)"))
			})
		})

		When("the store fails transiently", func() {
			It("retries until the change is distributed", func() {
				watcher.BackoffStrategy = backoff.Constant(5 * time.Millisecond)

				fails := 3
				store.SetFunc = func(
					ctx context.Context,
					key string,
					rec persistence.Record,
				) error {
					if key == persistence.RecordKey("<ns>") && fails > 0 {
						fails--
						return errors.New("<store error>")
					}

					return store.Store.Set(ctx, key, rec)
				}

				write("index.js", "alert(1)")

				go watcher.Run(ctx)

				Eventually(func() string {
					return record().CompiledContent
				}).Should(Equal("alert(1)"))
			})
		})

		When("another tab already hosts the namespace", func() {
			It("refuses to start watching", func() {
				err := store.Set(
					ctx,
					persistence.HostKey("<ns>"),
					persistence.Record{
						Host:         "<other>",
						LastModified: persistence.Now(),
					},
				)
				Expect(err).ShouldNot(HaveOccurred())

				err = watcher.Run(ctx)
				Expect(errors.Is(err, ErrLeaseHeld)).To(BeTrue())
			})
		})

		It("releases the lease when the watch ends", func() {
			write("index.js", "alert(1)")

			runCtx, stop := context.WithCancel(ctx)

			done := make(chan struct{})
			go func() {
				defer close(done)
				watcher.Run(runCtx)
			}()

			Eventually(func() string {
				return record().CompiledContent
			}).Should(Equal("alert(1)"))

			stop()
			Eventually(done).Should(BeClosed())

			rec, _, err := store.Get(ctx, persistence.HostKey("<ns>"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Vacant()).To(BeTrue())
		})
	})
})
