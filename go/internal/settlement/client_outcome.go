package settlement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultWinRate is used until the server reports one.
const DefaultWinRate = 50

// OutcomeAPI is the part of the backend the client-side engine needs.
type OutcomeAPI interface {
	GetWinRate(ctx context.Context) (int, error)
	FinishRound(ctx context.Context, roundID models.RoundID, req trading_api_client.FinishRoundRequest) (trading_api_client.FinishRoundResponse, error)
}

// Roller returns a uniform integer in [1,100].
type Roller func() int

// RollPercent draws uniformly from [1,100].
func RollPercent() int {
	return rand.IntN(100) + 1
}

type ClientOutcomeConfig struct {
	PayoutRate     decimal.Decimal
	DefaultWinRate int
}

// ClientOutcomeEngine draws the outcome on the client from the server's win
// rate and persists it through the finish endpoint. The server trusts the
// submitted outcome, which is only acceptable for simulated balances.
type ClientOutcomeEngine struct {
	api  OutcomeAPI
	cfg  ClientOutcomeConfig
	roll Roller

	winRateMu   sync.Mutex
	lastWinRate int
}

func NewClientOutcomeEngine(api OutcomeAPI, cfg ClientOutcomeConfig, roll Roller) *ClientOutcomeEngine {
	if cfg.PayoutRate.IsZero() {
		cfg.PayoutRate = DefaultPayoutRate
	}
	if cfg.DefaultWinRate < 0 || cfg.DefaultWinRate > 100 {
		cfg.DefaultWinRate = DefaultWinRate
	}
	if roll == nil {
		roll = RollPercent
	}
	return &ClientOutcomeEngine{
		api:         api,
		cfg:         cfg,
		roll:        roll,
		lastWinRate: cfg.DefaultWinRate,
	}
}

func (e *ClientOutcomeEngine) Strategy() Strategy { return StrategyClient }

func (e *ClientOutcomeEngine) Settle(ctx context.Context, round models.Round) (models.RoundResult, error) {
	winRate := e.winRate(ctx)
	roll := e.roll()
	win := Wins(winRate, roll)
	profit := Profit(round.Amount, win, e.cfg.PayoutRate)

	log.Debug().
		Str("round_id", round.ID.String()).
		Int("win_rate", winRate).
		Int("roll", roll).
		Bool("win", win).
		Str("profit", profit.String()).
		Msg("drew round outcome")

	resp, err := e.api.FinishRound(ctx, round.ID, trading_api_client.FinishRoundRequest{
		Win:    win,
		Profit: profit,
	})
	if err != nil {
		return models.RoundResult{}, fmt.Errorf("submit outcome: %w", err)
	}

	return models.RoundResult{
		RoundID:    round.ID,
		Win:        win,
		Profit:     profit,
		NewBalance: resp.NewBalance,
	}, nil
}

// winRate fetches the current win rate, keeping the last known value when
// the fetch fails.
func (e *ClientOutcomeEngine) winRate(ctx context.Context) int {
	e.winRateMu.Lock()
	defer e.winRateMu.Unlock()

	rate, err := e.api.GetWinRate(ctx)
	if err != nil {
		log.Warn().Err(err).Int("win_rate", e.lastWinRate).Msg("win rate fetch failed, using last known value")
		return e.lastWinRate
	}
	e.lastWinRate = rate
	return rate
}
