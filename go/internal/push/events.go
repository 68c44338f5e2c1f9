package push

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRoundFinished   EventType = "round_finished"
	EventServerTime      EventType = "server_time"
	EventPriceUpdate     EventType = "price_update"
	EventSubscribeRounds EventType = "subscribe_rounds"
)

// Envelope is the frame carried by every push transport.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps data in an envelope.
func Encode(event EventType, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

type RoundFinishedEvent struct {
	RoundID    models.RoundID   `json:"round_id"`
	UserID     int64            `json:"user_id"`
	Win        bool             `json:"win"`
	Profit     decimal.Decimal  `json:"profit"`
	Amount     decimal.Decimal  `json:"amount"`
	Direction  models.Direction `json:"direction"`
	Symbol     string           `json:"symbol"`
	Name       string           `json:"name"`
	StartPrice float64          `json:"start_price"`
	EndPrice   float64          `json:"end_price"`
	NewBalance decimal.Decimal  `json:"new_balance"`
}

func (e RoundFinishedEvent) Result() models.RoundResult {
	return models.RoundResult{
		RoundID:    e.RoundID,
		Win:        e.Win,
		Profit:     e.Profit,
		NewBalance: e.NewBalance,
		EndPrice:   e.EndPrice,
	}
}

// ServerTimeEvent has the same shape as the server-time endpoint.
type ServerTimeEvent = trading_api_client.ServerTimeResponse

type PriceUpdateEvent struct {
	PairID    models.PairID `json:"pair_id"`
	Price     float64       `json:"price"`
	Timestamp float64       `json:"timestamp"`
}

type SubscribeRoundsEvent struct {
	UserID int64 `json:"user_id"`
}
