package trading_api_client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

type CreateRoundRequest struct {
	UserID    int64            `json:"user_id"`
	PairID    models.PairID    `json:"pair_id"`
	Direction models.Direction `json:"direction"`
	Amount    decimal.Decimal  `json:"amount"`
	Duration  int              `json:"duration"`
}

type CreateRoundResponse struct {
	ID         models.RoundID   `json:"id"`
	PairID     models.PairID    `json:"pair_id"`
	Direction  models.Direction `json:"direction"`
	Amount     decimal.Decimal  `json:"amount"`
	Duration   int              `json:"duration"`
	StartTime  FlexTime         `json:"start_time"`
	EndTime    FlexTime         `json:"end_time"`
	StartPrice float64          `json:"start_price"`
	Symbol     string           `json:"symbol"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
}

// RoundSummary is one entry of the active-rounds listing.
type RoundSummary struct {
	ID               models.RoundID   `json:"id"`
	PairID           models.PairID    `json:"pair_id"`
	Direction        models.Direction `json:"direction"`
	Amount           decimal.Decimal  `json:"amount"`
	Duration         int              `json:"duration"`
	CountdownSeconds *int             `json:"countdown_seconds,omitempty"`
	StartTime        FlexTime         `json:"start_time"`
	EndTime          FlexTime         `json:"end_time"`
	StartPrice       float64          `json:"start_price"`
	Symbol           string           `json:"symbol"`
	Name             string           `json:"name"`
}

type FinishRoundRequest struct {
	Win    bool            `json:"win"`
	Profit decimal.Decimal `json:"profit"`
}

type FinishRoundResponse struct {
	RoundID    models.RoundID  `json:"round_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

func (c *TradingApiClient) CreateRound(ctx context.Context, req CreateRoundRequest) (CreateRoundResponse, error) {
	var response CreateRoundResponse
	if err := c.PostJSON(ctx, RoundsEndpoint, req, &response); err != nil {
		return CreateRoundResponse{}, fmt.Errorf("failed to create round: %w", err)
	}
	return response, nil
}

func (c *TradingApiClient) GetActiveRounds(ctx context.Context, userID int64) ([]RoundSummary, error) {
	var rounds []RoundSummary
	endpoint := fmt.Sprintf("%s?user_id=%d", ActiveRoundsEndpoint, userID)
	if err := c.GetJSON(ctx, endpoint, &rounds); err != nil {
		return nil, fmt.Errorf("failed to get active rounds: %w", err)
	}
	return rounds, nil
}

func (c *TradingApiClient) FinishRound(ctx context.Context, roundID models.RoundID, req FinishRoundRequest) (FinishRoundResponse, error) {
	var response FinishRoundResponse
	endpoint := fmt.Sprintf(FinishRoundEndpoint, url.PathEscape(roundID.String()))
	if err := c.PostJSON(ctx, endpoint, req, &response); err != nil {
		return FinishRoundResponse{}, fmt.Errorf("failed to finish round %s: %w", roundID, err)
	}
	return response, nil
}
