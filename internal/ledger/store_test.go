package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/ledger"
)

type storeFactory func() ledger.Store

func entry(ncf string, at time.Time) ledger.Entry {
	return ledger.Entry{
		NCF:        ncf,
		InvoiceID:  "inv-" + ncf,
		RNC:        "123456789",
		Total:      decimal.RequireFromString("1500.00"),
		RecordedAt: at,
	}
}

var storeBehaviour = func(newStore storeFactory) {
	var (
		ctx   context.Context
		store ledger.Store
		t0    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
		t0 = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
			store = nil
		}
	})

	Describe("Insert", func() {
		It("inserts a new NCF once", func() {
			ok, err := store.Insert(ctx, entry("B0100000123", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = store.Insert(ctx, entry("B0100000123", t0.Add(time.Minute)))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Contains", func() {
		When("the NCF was recorded", func() {
			BeforeEach(func() {
				_, err := store.Insert(ctx, entry("B0100000123", t0))
				Expect(err).NotTo(HaveOccurred())
			})

			It("reports true", func() {
				found, err := store.Contains(ctx, "B0100000123")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
			})
		})

		When("the NCF is unknown", func() {
			It("reports false", func() {
				found, err := store.Contains(ctx, "B0100000999")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
			})
		})
	})

	Describe("Get", func() {
		It("round-trips the entry", func() {
			_, err := store.Insert(ctx, entry("E310000000001", t0))
			Expect(err).NotTo(HaveOccurred())

			got, err := store.Get(ctx, "E310000000001")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.InvoiceID).To(Equal("inv-E310000000001"))
			Expect(got.RNC).To(Equal("123456789"))
			Expect(got.Total.StringFixed(2)).To(Equal("1500.00"))
			Expect(got.RecordedAt.Equal(t0)).To(BeTrue())
		})

		It("returns ErrNotFound for unknown NCFs", func() {
			_, err := store.Get(ctx, "B0100000999")
			Expect(errors.Is(err, ledger.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for i, ncf := range []string{"B0100000001", "B0100000002", "B0100000003"} {
				_, err := store.Insert(ctx, entry(ncf, t0.Add(time.Duration(i)*time.Hour)))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("returns entries newest first", func() {
			got, err := store.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(3))
			Expect(got[0].NCF).To(Equal("B0100000003"))
			Expect(got[2].NCF).To(Equal("B0100000001"))
		})

		It("honours the limit", func() {
			got, err := store.List(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
		})
	})
}

var _ = Describe("MemoryStore", func() {
	storeBehaviour(func() ledger.Store { return ledger.NewMemoryStore() })
})

var _ = Describe("BoltStore", func() {
	storeBehaviour(func() ledger.Store {
		s, err := ledger.NewBoltStore(filepath.Join(GinkgoT().TempDir(), "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})

var _ = Describe("SQLiteStore", func() {
	storeBehaviour(func() ledger.Store {
		s, err := ledger.NewSQLiteStore(context.Background(), filepath.Join(GinkgoT().TempDir(), "ledger.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})

var _ = Describe("PostgresStore", func() {
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")

	BeforeEach(func() {
		if url == "" {
			Skip("LEDGER_TEST_DATABASE_URL not set")
		}
	})

	storeBehaviour(func() ledger.Store {
		s, err := ledger.NewPostgresStore(context.Background(), url)
		Expect(err).NotTo(HaveOccurred())
		return &truncatingStore{PostgresStore: s}
	})
})

// truncatingStore empties the shared table on Close so specs stay independent.
type truncatingStore struct {
	*ledger.PostgresStore
}

func (t *truncatingStore) Close() error {
	if err := t.PostgresStore.Truncate(context.Background()); err != nil {
		return err
	}
	return t.PostgresStore.Close()
}

var _ = Describe("Open", func() {
	It("defaults to the memory backend", func() {
		s, err := ledger.Open(context.Background(), ledger.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&ledger.MemoryStore{}))
	})

	It("rejects unknown backends", func() {
		_, err := ledger.Open(context.Background(), ledger.Options{Backend: "redis"})
		Expect(err).To(MatchError(ContainSubstring("unknown ledger backend")))
	})

	It("requires a URL for postgres", func() {
		_, err := ledger.Open(context.Background(), ledger.Options{Backend: ledger.BackendPostgres})
		Expect(err).To(HaveOccurred())
	})
})
