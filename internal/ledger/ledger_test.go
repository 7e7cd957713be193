package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/facturaIA/lector-ncf/internal/ledger"
)

// racingStore reports the NCF as absent but refuses the insert, as when a
// second process wins the primary key.
type racingStore struct {
	*ledger.MemoryStore
}

func (racingStore) Contains(context.Context, string) (bool, error) { return false, nil }
func (racingStore) Insert(context.Context, ledger.Entry) (bool, error) {
	return false, nil
}

type failingStore struct {
	*ledger.MemoryStore
}

func (failingStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

// slowStore blocks until the context expires.
type slowStore struct {
	*ledger.MemoryStore
}

func (slowStore) Contains(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

var _ = Describe("Ledger", func() {
	var (
		ctx context.Context
		l   *ledger.Ledger
	)

	BeforeEach(func() {
		ctx = context.Background()
		l = ledger.New(ledger.NewMemoryStore(), 0, nil)
	})

	AfterEach(func() {
		Expect(l.Close()).To(Succeed())
	})

	recordAll := func(duplicate bool) (ledger.Entry, bool) {
		return ledger.Entry{InvoiceID: "inv"}, !duplicate
	}

	Describe("CheckAndRecord", func() {
		It("records a first-seen NCF", func() {
			res, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(ledger.Result{Duplicate: false, Recorded: true}))

			e, err := l.Get(ctx, "B0100000123")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.NCF).To(Equal("B0100000123"))
			Expect(e.RecordedAt.IsZero()).To(BeFalse())
		})

		It("reports the second submission as a duplicate", func() {
			_, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
			Expect(err).NotTo(HaveOccurred())

			res, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(ledger.Result{Duplicate: true, Recorded: false}))
		})

		It("does not record when the decision declines", func() {
			res, err := l.CheckAndRecord(ctx, "B0100000123", func(bool) (ledger.Entry, bool) {
				return ledger.Entry{}, false
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Recorded).To(BeFalse())

			found, err := l.Contains(ctx, "B0100000123")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		When("the same NCF is submitted concurrently", func() {
			It("lets exactly one caller observe a non-duplicate", func() {
				const callers = 32
				var (
					wg         sync.WaitGroup
					fresh      atomic.Int32
					duplicates atomic.Int32
					recorded   atomic.Int32
				)
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						res, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
						Expect(err).NotTo(HaveOccurred())
						if res.Duplicate {
							duplicates.Add(1)
						} else {
							fresh.Add(1)
						}
						if res.Recorded {
							recorded.Add(1)
						}
					}()
				}
				wg.Wait()

				Expect(fresh.Load()).To(Equal(int32(1)))
				Expect(recorded.Load()).To(Equal(int32(1)))
				Expect(duplicates.Load()).To(Equal(int32(callers - 1)))

				entries, err := l.List(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})
		})

		When("another process inserts first", func() {
			BeforeEach(func() {
				l = ledger.New(racingStore{ledger.NewMemoryStore()}, 0, nil)
			})

			It("re-decides as a duplicate", func() {
				var verdicts []bool
				res, err := l.CheckAndRecord(ctx, "B0100000123", func(dup bool) (ledger.Entry, bool) {
					verdicts = append(verdicts, dup)
					return ledger.Entry{}, !dup
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(res).To(Equal(ledger.Result{Duplicate: true}))
				Expect(verdicts).To(Equal([]bool{false, true}))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				l = ledger.New(failingStore{ledger.NewMemoryStore()}, 0, nil)
			})

			It("returns a wrapped error", func() {
				_, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
				Expect(err).To(MatchError(ContainSubstring("connection refused")))
			})
		})

		When("the store hangs", func() {
			BeforeEach(func() {
				l = ledger.New(slowStore{ledger.NewMemoryStore()}, 20*time.Millisecond, nil)
			})

			It("gives up after the timeout", func() {
				_, err := l.CheckAndRecord(ctx, "B0100000123", recordAll)
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			})
		})
	})
})

var _ = Describe("Guard", func() {
	It("does not block different keys", func() {
		g := ledger.NewGuard()
		unlockA := g.Lock("B0100000001")

		done := make(chan struct{})
		go func() {
			unlockB := g.Lock("B0100000002")
			unlockB()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
		unlockA()
	})

	It("serializes the same key", func() {
		g := ledger.NewGuard()
		unlock := g.Lock("B0100000001")

		acquired := make(chan struct{})
		go func() {
			u := g.Lock("B0100000001")
			close(acquired)
			u()
		}()
		Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())
		unlock()
		Eventually(acquired).Should(BeClosed())
	})

	It("forgets released keys", func() {
		g := ledger.NewGuard()
		g.Lock("B0100000001")()
		Expect(g.Len()).To(Equal(0))
	})
})
