package services

import (
	"math"

	"github.com/facturaIA/lector-ncf/internal/resolve"
)

// AbsentFieldScore stands in for the confidence of a field that was not found.
const AbsentFieldScore = 0.05

// Weights are the exponents applied to each field's resolution confidence.
type Weights struct {
	NCF     float64 `yaml:"ncf" json:"ncf"`
	RNC     float64 `yaml:"rnc" json:"rnc"`
	Date    float64 `yaml:"date" json:"date"`
	Amounts float64 `yaml:"amounts" json:"amounts"`
	Name    float64 `yaml:"name" json:"name"`
}

// DefaultWeights favour the reject-relevant fields.
func DefaultWeights() Weights {
	return Weights{NCF: 1.0, RNC: 1.0, Date: 0.25, Amounts: 0.25, Name: 0.1}
}

// calculateConfidence returns ocr * prod(c_i ^ w_i), rounded to 4 decimals.
// The amounts factor is the mean of subtotal, ITBIS and total.
func calculateConfidence(ocr float64, f resolve.Fields, w Weights) float64 {
	amounts := (fieldScore(f.Subtotal.Present, f.Subtotal.Confidence) +
		fieldScore(f.Tax.Present, f.Tax.Confidence) +
		fieldScore(f.Total.Present, f.Total.Confidence)) / 3

	score := ocr
	score *= math.Pow(fieldScore(f.NCF.Present, f.NCF.Confidence), w.NCF)
	score *= math.Pow(fieldScore(f.RNC.Present, f.RNC.Confidence), w.RNC)
	score *= math.Pow(fieldScore(f.IssueDate.Present, f.IssueDate.Confidence), w.Date)
	score *= math.Pow(amounts, w.Amounts)
	score *= math.Pow(fieldScore(f.BusinessName.Present, f.BusinessName.Confidence), w.Name)

	return math.Round(score*10000) / 10000
}

func fieldScore(present bool, conf float64) float64 {
	if !present || conf <= 0 {
		return AbsentFieldScore
	}
	return conf
}
