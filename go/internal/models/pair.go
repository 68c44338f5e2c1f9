package models

// PairID identifies a trading instrument.
type PairID int64

// Pair is an entry of the instrument catalog.
type Pair struct {
	ID       PairID `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Category string `json:"category"`
}
