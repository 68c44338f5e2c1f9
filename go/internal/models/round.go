package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RoundID is the server-assigned identifier of a round. The backend may send
// it as a JSON number or a string; both decode to the same opaque value.
type RoundID string

func (id RoundID) String() string { return string(id) }

// UnmarshalJSON accepts both `42` and `"42"`.
func (id *RoundID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("round id: %w", err)
		}
		*id = RoundID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("round id: %w", err)
	}
	*id = RoundID(n.String())
	return nil
}

// Direction is the side of a bet.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// ParseDirection accepts UP/DOWN as well as the BUY/SELL labels, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "BUY":
		return DirectionUp, nil
	case "DOWN", "SELL":
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("invalid direction %q", s)
	}
}

// Label returns the BUY/SELL form used on the wire and in the UI.
func (d Direction) Label() string {
	if d == DirectionDown {
		return "SELL"
	}
	return "BUY"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.Label()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RoundStatus tracks a round through settlement.
type RoundStatus string

const (
	RoundStatusActive   RoundStatus = "ACTIVE"
	RoundStatusSettling RoundStatus = "SETTLING"
	RoundStatusSettled  RoundStatus = "SETTLED"
)

// Round is one timed bet tracked by the client.
type Round struct {
	ID         RoundID         `json:"id"`
	PairID     PairID          `json:"pair_id"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	EntryPrice float64         `json:"entry_price"`

	// CountdownSeconds is fixed when the round is created or hydrated and
	// never recomputed afterwards.
	CountdownSeconds int `json:"countdown_seconds"`
	// CountdownStartedAt is a local clock reading, only ever used to measure
	// elapsed time.
	CountdownStartedAt time.Time `json:"countdown_started_at"`

	Status    RoundStatus `json:"status"`
	CreatedAt *time.Time  `json:"created_at,omitempty"`
	EndsAt    *time.Time  `json:"ends_at,omitempty"`
}

// IsActive reports whether the round can still be settled.
func (r Round) IsActive() bool {
	return r.Status == RoundStatusActive
}
