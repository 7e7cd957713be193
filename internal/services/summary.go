package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/facturaIA/lector-ncf/internal/extract"
	"github.com/facturaIA/lector-ncf/internal/models"
)

// DefaultMinConfidence is the LOW_CONFIDENCE threshold when none is configured.
const DefaultMinConfidence = 0.6

// Summary is what the messaging gateway needs to answer the sender.
type Summary struct {
	InvoiceID string        `json:"invoiceId"`
	Accepted  bool          `json:"accepted"`
	Status    models.Status `json:"status"`
	Flags     []models.Flag `json:"flags"`
	Reasons   []string      `json:"reasons"`
	Reply     string        `json:"reply"`
}

var moneyPrinter = message.NewPrinter(language.English)

// Summarize derives the user-facing result. LOW_CONFIDENCE is applied here,
// by the caller, and never changes the invoice's status.
func Summarize(inv *models.Invoice, minConfidence float64) Summary {
	flags := append([]models.Flag(nil), inv.Outcome.Flags...)
	if inv.Confidence < minConfidence {
		flags = append(flags, models.Flag{
			Code:     models.FlagLowConfidence,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Confianza baja (%.2f)", inv.Confidence),
		})
	}

	reasons := make([]string, 0, len(flags))
	for _, f := range flags {
		reasons = append(reasons, f.Message)
	}

	s := Summary{
		InvoiceID: inv.ID,
		Accepted:  inv.Accepted(),
		Status:    inv.Outcome.Status,
		Flags:     flags,
		Reasons:   reasons,
	}

	switch {
	case !s.Accepted:
		s.Reply = ErrorReply(strings.Join(reasons, "; "))
	case len(flags) > 0:
		s.Reply = partialReply(reasons)
	default:
		s.Reply = successReply(inv)
	}
	return s
}

// ErrorReply is sent when the invoice cannot be used. detail may be empty.
func ErrorReply(detail string) string {
	msg := "❌ No se pudo leer la factura. Por favor, envía una foto más clara."
	if detail != "" {
		msg += "\n\nDetalle: " + detail
	}
	return msg
}

func partialReply(reasons []string) string {
	var b strings.Builder
	b.WriteString("⚠️ *Factura procesada con alertas*\n\n")
	for _, r := range reasons {
		b.WriteString("• " + r + "\n")
	}
	b.WriteString("\nRevisar manualmente.")
	return b.String()
}

func successReply(inv *models.Invoice) string {
	msg := "🧾 *Lectura Exitosa*\n\n✅ **NCF:** " + inv.NCF.Value
	if inv.Amounts.Total.Present {
		msg += "\n💰 **Total:** " + FormatMoney(inv.Amounts.Currency, inv.Amounts.Total.Value)
	}
	return msg
}

// FormatMoney renders 1500 as "RD$1,500.00" (or "US$1,500.00" for USD).
// The amount is rounded to cents as a decimal; only the whole part is grouped.
func FormatMoney(currency string, amount decimal.Decimal) string {
	symbol := "RD$"
	if currency == extract.CurrencyUSD {
		symbol = "US$"
	}
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	_, cents, _ := strings.Cut(rounded.StringFixed(2), ".")
	return sign + symbol + moneyPrinter.Sprintf("%d", rounded.Truncate(0).IntPart()) + "." + cents
}
