package models

import "github.com/shopspring/decimal"

// RoundResult is the authoritative outcome of a settled round.
type RoundResult struct {
	RoundID    RoundID         `json:"round_id"`
	Win        bool            `json:"win"`
	Profit     decimal.Decimal `json:"profit"`
	NewBalance decimal.Decimal `json:"new_balance"`
	EndPrice   float64         `json:"end_price,omitempty"`
}
