package devmode_test

import (
	"context"
	"time"

	. "github.com/DavidKk/tabsync/devmode"
	"github.com/DavidKk/tabsync/fixtures"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/DavidKk/tabsync/sandbox"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Applier", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		store     *fixtures.StoreStub
		evaluator *fixtures.EvaluatorStub
		activity  *fixtures.ActivityStub
		applier   *Applier
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		store = fixtures.NewStoreStub()
		evaluator = &fixtures.EvaluatorStub{}
		activity = fixtures.NewActivityStub()

		applier = &Applier{
			Namespace: "<ns>",
			TabID:     "<tab>",
			Store:     store,
			Sandbox: &sandbox.Sandbox{
				Evaluator: evaluator,
			},
			Activity: activity,
		}
	})

	AfterEach(func() {
		cancel()
	})

	distribute := func(version int64, content string) {
		err := store.Set(
			ctx,
			persistence.RecordKey("<ns>"),
			persistence.Record{
				Host:            "<producer>",
				LastModified:    version,
				CompiledContent: content,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	}

	Describe("func Run()", func() {
		It("executes each newly distributed artifact", func() {
			go applier.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			distribute(persistence.Now(), "alert(1)")

			Eventually(evaluator.Executions).Should(HaveLen(1))
			Expect(evaluator.Executions()[0].Body).To(Equal("alert(1)"))
		})

		It("executes this tab's own output like anyone else's", func() {
			go applier.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			err := store.Set(
				ctx,
				persistence.RecordKey("<ns>"),
				persistence.Record{
					Host:            "<tab>",
					LastModified:    persistence.Now(),
					CompiledContent: "alert(1)",
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(evaluator.Executions).Should(HaveLen(1))
		})

		It("does not execute the record that was current when the tab arrived", func() {
			distribute(persistence.Now(), "alert(1)")

			go applier.Run(ctx)

			Consistently(evaluator.Executions).Should(BeEmpty())
		})

		It("ignores records without an artifact body", func() {
			go applier.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			distribute(persistence.Now(), "")

			Consistently(evaluator.Executions).Should(BeEmpty())
		})

		It("ignores records that do not supersede the last applied version", func() {
			go applier.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			v := persistence.Now()

			distribute(v, "alert(1)")
			Eventually(evaluator.Executions).Should(HaveLen(1))

			distribute(v, "alert(1)")
			Consistently(evaluator.Executions).Should(HaveLen(1))
		})

		It("ignores records that are older than the last applied version", func() {
			go applier.Run(ctx)
			time.Sleep(50 * time.Millisecond)

			v := persistence.Now()

			distribute(v, "alert(1)")
			Eventually(evaluator.Executions).Should(HaveLen(1))

			distribute(v-1000, "alert(0)")
			Consistently(evaluator.Executions).Should(HaveLen(1))
			Expect(evaluator.Executions()[0].Body).To(Equal("alert(1)"))
		})

		When("the tab is backgrounded", func() {
			It("defers application until the tab becomes active", func() {
				go applier.Run(ctx)
				time.Sleep(50 * time.Millisecond)

				activity.SetActive(false)
				time.Sleep(50 * time.Millisecond)

				distribute(persistence.Now(), "alert(1)")

				Consistently(evaluator.Executions).Should(BeEmpty())

				activity.SetActive(true)

				Eventually(evaluator.Executions).Should(HaveLen(1))
				Expect(evaluator.Executions()[0].Body).To(Equal("alert(1)"))
			})

			It("applies only the most recent deferred artifact", func() {
				go applier.Run(ctx)
				time.Sleep(50 * time.Millisecond)

				activity.SetActive(false)
				time.Sleep(50 * time.Millisecond)

				v := persistence.Now()
				distribute(v, "alert(1)")
				distribute(v+1, "alert(2)")

				Consistently(evaluator.Executions).Should(BeEmpty())

				activity.SetActive(true)

				Eventually(evaluator.Executions).Should(HaveLen(1))
				Expect(evaluator.Executions()[0].Body).To(Equal("alert(2)"))
			})
		})

		It("returns when the context is canceled", func() {
			canceledCtx, cancelNow := context.WithCancel(ctx)
			cancelNow()

			err := applier.Run(canceledCtx)
			Expect(err).To(Equal(context.Canceled))
		})
	})
})
