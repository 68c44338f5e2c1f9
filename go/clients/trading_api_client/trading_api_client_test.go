package trading_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/roundclient/go/clients"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TradingApiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTradingApiClient(server.URL)
}

func TestFlexTime_Decodes(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
	}{
		{"iso with zone", `"2026-03-01T12:00:30Z"`},
		{"iso without zone", `"2026-03-01T12:00:30"`},
		{"iso with space", `"2026-03-01 12:00:30"`},
		{"unix seconds", `1772366430`},
		{"unix millis", `1772366430000`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexTime
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ft))
			assert.True(t, want.Equal(ft.Time), "got %s", ft.Time)
		})
	}

	var ft FlexTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &ft))
	assert.True(t, ft.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ft))
}

func TestServerTimeResponse_EpochSeconds(t *testing.T) {
	ts := 1772366430.75
	sec, err := ServerTimeResponse{Timestamp: &ts, Time: "garbage"}.EpochSeconds()
	require.NoError(t, err)
	assert.Equal(t, int64(1772366430), sec)

	sec, err = ServerTimeResponse{Time: "2026-03-01T12:00:30.123456"}.EpochSeconds()
	require.NoError(t, err)
	assert.Equal(t, int64(1772366430), sec)

	_, err = ServerTimeResponse{}.EpochSeconds()
	assert.Error(t, err)
}

func TestFetchServerTime(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/server-time", r.URL.Path)
		_, _ = w.Write([]byte(`{"time":"2026-03-01T12:00:30","timestamp":1772366430.5,"formatted":"12:00:30"}`))
	})

	sec, err := client.FetchServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1772366430), sec)
}

func TestGetActiveRounds_MixedEncodings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rounds/active", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		_, _ = w.Write([]byte(`[
			{"id": 42, "pair_id": 1, "direction": "BUY", "amount": 10, "duration": 60,
			 "start_time": "2026-03-01T12:00:00", "end_time": 1772366460000, "start_price": 64000.5},
			{"id": "b7c1", "pair_id": 2, "direction": "sell", "amount": "2.5", "duration": 30,
			 "countdown_seconds": 12, "start_time": "2026-03-01T12:00:10Z"}
		]`))
	})

	rounds, err := client.GetActiveRounds(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	assert.Equal(t, models.RoundID("42"), rounds[0].ID)
	assert.Equal(t, models.DirectionUp, rounds[0].Direction)
	assert.True(t, decimal.NewFromInt(10).Equal(rounds[0].Amount))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), rounds[0].EndTime.Time)
	assert.Nil(t, rounds[0].CountdownSeconds)

	assert.Equal(t, models.RoundID("b7c1"), rounds[1].ID)
	assert.Equal(t, models.DirectionDown, rounds[1].Direction)
	require.NotNil(t, rounds[1].CountdownSeconds)
	assert.Equal(t, 12, *rounds[1].CountdownSeconds)
	assert.True(t, rounds[1].EndTime.IsZero())
}

func TestCreateRound_SendsWireLabels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELL", body["direction"])
		assert.Equal(t, 5.5, body["amount"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc","pair_id":1,"direction":"SELL","amount":5.5,"duration":60,"start_price":101.25,"status":"active"}`))
	})

	resp, err := client.CreateRound(context.Background(), CreateRoundRequest{
		UserID:    1,
		PairID:    1,
		Direction: models.DirectionDown,
		Amount:    decimal.RequireFromString("5.5"),
		Duration:  60,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoundID("abc"), resp.ID)
	assert.Equal(t, 101.25, resp.StartPrice)
}

func TestStatusError_CarriesServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Insufficient balance"}`))
	})

	_, err := client.CreateRound(context.Background(), CreateRoundRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, clients.ErrUnexpectedStatus)

	var statusErr *clients.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "Insufficient balance", statusErr.Message)
}

func TestGetWinRate_RejectsOutOfRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"win_rate":140}`))
	})

	_, err := client.GetWinRate(context.Background())
	assert.Error(t, err)
	assert.Error(t, client.SetWinRate(context.Background(), -1))
}

func TestFinishRound_EscapesID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rounds/a%2Fb/finish", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"round_id":"a/b","new_balance":118}`))
	})

	resp, err := client.FinishRound(context.Background(), "a/b", FinishRoundRequest{
		Win:    true,
		Profit: decimal.NewFromInt(8),
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(118).Equal(resp.NewBalance))
}
