package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/resolve"
)

func full(conf float64) resolve.Fields {
	var f resolve.Fields
	f.NCF = models.ResolvedField[string]{Present: true, Confidence: conf}
	f.RNC = models.ResolvedField[string]{Present: true, Confidence: conf}
	f.BusinessName.Present, f.BusinessName.Confidence = true, conf
	f.IssueDate.Present, f.IssueDate.Confidence = true, conf
	f.Subtotal.Present, f.Subtotal.Confidence = true, conf
	f.Tax.Present, f.Tax.Confidence = true, conf
	f.Total.Present, f.Total.Confidence = true, conf
	return f
}

func TestCalculateConfidencePerfect(t *testing.T) {
	assert.Equal(t, 0.9, calculateConfidence(0.9, full(1), DefaultWeights()))
}

func TestCalculateConfidenceWeighted(t *testing.T) {
	w := DefaultWeights()
	want := 0.8 * math.Pow(0.5, w.NCF+w.RNC+w.Date+w.Amounts+w.Name)
	assert.InDelta(t, math.Round(want*10000)/10000, calculateConfidence(0.8, full(0.5), w), 1e-9)
}

func TestCalculateConfidenceAbsentFields(t *testing.T) {
	f := full(1)
	f.NCF = models.Absent[string]()

	got := calculateConfidence(1, f, DefaultWeights())
	assert.Equal(t, AbsentFieldScore, got)

	f = full(1)
	f.BusinessName = models.Absent[string]()
	got = calculateConfidence(1, f, DefaultWeights())
	assert.InDelta(t, math.Round(math.Pow(AbsentFieldScore, 0.1)*10000)/10000, got, 1e-9)
}

func TestCalculateConfidenceAmountsAveraged(t *testing.T) {
	f := full(1)
	f.Tax.Present = false

	want := math.Pow((1+1+AbsentFieldScore)/3, DefaultWeights().Amounts)
	assert.InDelta(t, math.Round(want*10000)/10000, calculateConfidence(1, f, DefaultWeights()), 1e-9)
}
