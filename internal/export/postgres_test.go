package export_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/export"
	"github.com/facturaIA/lector-ncf/internal/models"
)

var _ = Describe("EmpresaID", func() {
	It("files invoices under the issuer RNC", func() {
		Expect(export.EmpresaID(invoice("a", "B0100000123"))).To(Equal("emp_123456789"))
	})

	It("groups invoices without an RNC", func() {
		Expect(export.EmpresaID(partial("b"))).To(Equal(export.NoEmpresa))
	})
})

var _ = Describe("NewStoredRecord", func() {
	It("starts pending review and export", func() {
		r := export.NewStoredRecord(invoice("a", "B0100000123"))
		Expect(r.ID).To(Equal("a"))
		Expect(r.EmpresaID).To(Equal("emp_123456789"))
		Expect(r.Revisada).To(BeFalse())
		Expect(r.Exportada).To(BeFalse())
		Expect(*r.NCF).To(Equal("B0100000123"))
		Expect(r.Montos.Total.Equal(decimal.NewFromInt(1500))).To(BeTrue())
	})

	It("keeps status and flags of rejected invoices", func() {
		r := export.NewStoredRecord(partial("b"))
		Expect(r.Estado).To(Equal(string(models.StatusRejected)))
		Expect(r.Alertas).To(ConsistOf(string(models.FlagNCFNotFound), string(models.FlagRNCNotFound)))
		Expect(r.NCF).To(BeNil())
		Expect(r.Montos.Total).To(BeNil())
	})
})

var _ = Describe("PostgresSink", func() {
	var (
		ctx  context.Context
		sink *export.PostgresSink
	)

	BeforeEach(func() {
		url := os.Getenv("EXPORT_TEST_DATABASE_URL")
		if url == "" {
			Skip("EXPORT_TEST_DATABASE_URL not set")
		}
		ctx = context.Background()
		var err error
		sink, err = export.NewPostgresSink(ctx, url, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(sink.Truncate(ctx)).To(Succeed())
			Expect(sink.Close()).To(Succeed())
		})
	})

	It("stores the invoice with its status and flags", func() {
		Expect(sink.Append(ctx, invoice("a", "B0100000123"))).To(Succeed())
		Expect(sink.Append(ctx, partial("b"))).To(Succeed())

		got, err := sink.List(ctx, export.ListFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))

		// partial("b") was processed later
		Expect(got[0].ID).To(Equal("b"))
		Expect(got[0].Estado).To(Equal(string(models.StatusRejected)))
		Expect(got[0].Alertas).To(ConsistOf(string(models.FlagNCFNotFound), string(models.FlagRNCNotFound)))
		Expect(got[0].NCF).To(BeNil())
		Expect(got[0].Montos.Total).To(BeNil())

		a := got[1]
		Expect(a.EmpresaID).To(Equal("emp_123456789"))
		Expect(*a.NCF).To(Equal("B0100000123"))
		Expect(*a.FechaEmision).To(Equal("2026-02-10"))
		Expect(a.Montos.Subtotal.StringFixed(2)).To(Equal("1271.19"))
		Expect(a.Montos.Total.StringFixed(2)).To(Equal("1500.00"))
		Expect(a.Estado).To(Equal(string(models.StatusAccepted)))
		Expect(a.Alertas).To(BeEmpty())
		Expect(a.Metadata.Origen).To(Equal("whatsapp"))
		Expect(a.FechaProcesamiento).To(Equal(time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC).Format(time.RFC3339)))
	})

	It("ignores a second append of the same invoice", func() {
		inv := invoice("a", "B0100000123")
		Expect(sink.Append(ctx, inv)).To(Succeed())
		Expect(sink.Append(ctx, inv)).To(Succeed())

		got, err := sink.List(ctx, export.ListFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
	})

	It("filters by company, review state and limit", func() {
		Expect(sink.Append(ctx, invoice("a", "B0100000123"))).To(Succeed())
		Expect(sink.Append(ctx, partial("b"))).To(Succeed())
		Expect(sink.MarkReviewed(ctx, "a")).To(Succeed())

		got, err := sink.List(ctx, export.ListFilter{EmpresaID: "emp_123456789"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Revisada).To(BeTrue())

		got, err = sink.List(ctx, export.ListFilter{PendingOnly: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal("b"))

		got, err = sink.List(ctx, export.ListFilter{Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
	})

	It("marks invoices exported", func() {
		Expect(sink.Append(ctx, invoice("a", "B0100000123"))).To(Succeed())
		Expect(sink.MarkExported(ctx, "a")).To(Succeed())

		got, err := sink.List(ctx, export.ListFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got[0].Exportada).To(BeTrue())
		Expect(got[0].Revisada).To(BeFalse())
	})

	It("reports unknown ids", func() {
		Expect(sink.MarkReviewed(ctx, "missing")).To(MatchError(export.ErrInvoiceNotFound))
		Expect(sink.MarkExported(ctx, "missing")).To(MatchError(export.ErrInvoiceNotFound))
	})
})
