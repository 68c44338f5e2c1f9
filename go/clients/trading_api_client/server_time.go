package trading_api_client

import (
	"context"
	"errors"
	"fmt"
	"math"
)

type ServerTimeResponse struct {
	Time      string   `json:"time"`
	Timestamp *float64 `json:"timestamp"`
	Formatted string   `json:"formatted"`
}

// EpochSeconds prefers the numeric timestamp and falls back to the ISO string.
func (r ServerTimeResponse) EpochSeconds() (int64, error) {
	if r.Timestamp != nil && *r.Timestamp > 0 && !math.IsInf(*r.Timestamp, 0) {
		return int64(math.Floor(*r.Timestamp)), nil
	}
	if r.Time == "" {
		return 0, errors.New("server time response has neither timestamp nor time")
	}
	parsed, err := ParseTime(r.Time)
	if err != nil {
		return 0, err
	}
	return parsed.Unix(), nil
}

func (c *TradingApiClient) GetServerTime(ctx context.Context) (ServerTimeResponse, error) {
	var response ServerTimeResponse
	if err := c.GetJSON(ctx, ServerTimeEndpoint, &response); err != nil {
		return ServerTimeResponse{}, fmt.Errorf("failed to get server time: %w", err)
	}
	return response, nil
}

// FetchServerTime returns the server clock in whole epoch seconds.
func (c *TradingApiClient) FetchServerTime(ctx context.Context) (int64, error) {
	response, err := c.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return response.EpochSeconds()
}
