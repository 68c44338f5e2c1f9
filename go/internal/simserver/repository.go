package simserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPairNotFound        = errors.New("pair not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRoundNotFound       = errors.New("round not found or already finished")
)

type RoundStatus string

const (
	RoundStatusActive   RoundStatus = "active"
	RoundStatusFinished RoundStatus = "finished"
)

// RoundRecord is a round as persisted by the backend.
type RoundRecord struct {
	ID         uuid.UUID
	UserID     int64
	PairID     models.PairID
	Direction  models.Direction
	Amount     decimal.Decimal
	Duration   int
	StartTime  time.Time
	EndTime    time.Time
	StartPrice float64
	Status     RoundStatus
	Symbol     string
	Name       string
}

// Outcome is the result applied when a round finishes.
type Outcome struct {
	Win      bool
	Profit   decimal.Decimal
	EndPrice float64
}

// Repository persists users, pairs, rounds and settings. Stake debits and
// win credits happen inside CreateRound and FinishRound so balances move
// atomically with round state.
type Repository interface {
	ListPairs(ctx context.Context) ([]models.Pair, error)
	GetPair(ctx context.Context, id models.PairID) (models.Pair, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)

	// CreateRound stores an active round and debits its amount.
	CreateRound(ctx context.Context, round RoundRecord) error
	GetRound(ctx context.Context, id uuid.UUID) (RoundRecord, error)
	// ActiveRounds returns the user's active rounds, newest first.
	ActiveRounds(ctx context.Context, userID int64) ([]RoundRecord, error)
	// DueRounds returns active rounds of every user that ended at or before t.
	DueRounds(ctx context.Context, t time.Time) ([]RoundRecord, error)
	// FinishRound marks an active round finished, crediting amount+profit on
	// a win, and returns the round with the user's new balance.
	FinishRound(ctx context.Context, id uuid.UUID, outcome Outcome) (RoundRecord, decimal.Decimal, error)

	GetWinRate(ctx context.Context) (int, error)
	SetWinRate(ctx context.Context, rate int) error
}

// DefaultPairs is the catalog used when no database is configured.
var DefaultPairs = []models.Pair{
	{ID: 1, Symbol: "BTCUSDT", Name: "Bitcoin", Category: "crypto"},
	{ID: 2, Symbol: "ETHUSDT", Name: "Ethereum", Category: "crypto"},
	{ID: 3, Symbol: "BNBUSDT", Name: "Binance Coin", Category: "crypto"},
	{ID: 4, Symbol: "SOLUSDT", Name: "Solana", Category: "crypto"},
	{ID: 5, Symbol: "ADAUSDT", Name: "Cardano", Category: "crypto"},
}
