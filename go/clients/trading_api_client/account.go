package trading_api_client

import (
	"context"
	"fmt"

	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type WinRateResponse struct {
	WinRate int `json:"win_rate"`
}

type PriceResponse struct {
	PairID    models.PairID `json:"pair_id"`
	Price     float64       `json:"price"`
	Timestamp float64       `json:"timestamp"`
}

func (c *TradingApiClient) GetPairs(ctx context.Context) ([]models.Pair, error) {
	var pairs []models.Pair
	if err := c.GetJSON(ctx, PairsEndpoint, &pairs); err != nil {
		return nil, fmt.Errorf("failed to get pairs: %w", err)
	}
	return pairs, nil
}

func (c *TradingApiClient) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var response BalanceResponse
	endpoint := fmt.Sprintf("%s?user_id=%d", BalanceEndpoint, userID)
	if err := c.GetJSON(ctx, endpoint, &response); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return response.Balance, nil
}

// GetWinRate returns the configured win probability in percent (0..100).
func (c *TradingApiClient) GetWinRate(ctx context.Context) (int, error) {
	var response WinRateResponse
	if err := c.GetJSON(ctx, WinRateEndpoint, &response); err != nil {
		return 0, fmt.Errorf("failed to get win rate: %w", err)
	}
	if response.WinRate < 0 || response.WinRate > 100 {
		return 0, fmt.Errorf("win rate out of range: %d", response.WinRate)
	}
	return response.WinRate, nil
}

func (c *TradingApiClient) GetPrice(ctx context.Context, pairID models.PairID) (float64, error) {
	var response PriceResponse
	if err := c.GetJSON(ctx, fmt.Sprintf(PriceEndpoint, pairID), &response); err != nil {
		return 0, fmt.Errorf("failed to get price: %w", err)
	}
	return response.Price, nil
}

// SetWinRate changes the server-side win probability. Used by the admin tooling.
func (c *TradingApiClient) SetWinRate(ctx context.Context, winRate int) error {
	if winRate < 0 || winRate > 100 {
		return fmt.Errorf("win rate out of range: %d", winRate)
	}
	var response WinRateResponse
	if err := c.PostJSON(ctx, AdminWinRateEndpoint, WinRateResponse{WinRate: winRate}, &response); err != nil {
		return fmt.Errorf("failed to set win rate: %w", err)
	}
	return nil
}
