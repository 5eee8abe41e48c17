package models

import (
	"strconv"
	"time"
)

// VerificationResult is the outcome of re-checking one imported product.
// Unchanged products never produce a result.
type VerificationResult struct {
	ProductID    string    `json:"product_id"`
	Name         string    `json:"name"`
	ASIN         string    `json:"asin,omitempty"`
	Exists       bool      `json:"exists"`
	CurrentPrice float64   `json:"current_price"`
	NewPrice     *float64  `json:"new_price,omitempty"`
	PriceChanged bool      `json:"price_changed"`
	Error        string    `json:"error,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ReportHeader implements the report writer row contract.
func (r VerificationResult) ReportHeader() []string {
	return []string{"product_id", "name", "asin", "exists", "current_price", "new_price", "price_changed", "error"}
}

// ReportRow implements the report writer row contract.
func (r VerificationResult) ReportRow() []string {
	newPrice := ""
	if r.NewPrice != nil {
		newPrice = strconv.FormatFloat(*r.NewPrice, 'f', 2, 64)
	}
	return []string{
		r.ProductID,
		r.Name,
		r.ASIN,
		strconv.FormatBool(r.Exists),
		strconv.FormatFloat(r.CurrentPrice, 'f', 2, 64),
		newPrice,
		strconv.FormatBool(r.PriceChanged),
		r.Error,
	}
}

// VerificationSummary counts sweep outcomes.
type VerificationSummary struct {
	Checked      int `json:"checked"`
	Errors       int `json:"errors"`
	Unavailable  int `json:"unavailable"`
	PriceUpdates int `json:"price_updates"`
	LinkUpdates  int `json:"link_updates"`
}

// VerificationReport is the terminal view of one sweep.
type VerificationReport struct {
	Results   []VerificationResult `json:"results"`
	Summary   VerificationSummary  `json:"summary"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
}
