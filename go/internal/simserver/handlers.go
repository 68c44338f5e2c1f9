package simserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Handler exposes the Service over the JSON API.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the API, the push endpoint and the health check.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/server-time", h.serverTime)
	mux.HandleFunc("GET /api/pairs", h.pairs)
	mux.HandleFunc("GET /api/balance", h.balance)
	mux.HandleFunc("POST /api/rounds", h.createRound)
	mux.HandleFunc("GET /api/rounds/active", h.activeRounds)
	mux.HandleFunc("POST /api/rounds/{id}/finish", h.finishRound)
	mux.HandleFunc("GET /api/win-rate", h.winRate)
	mux.HandleFunc("GET /api/admin/win-rate", h.winRate)
	mux.HandleFunc("POST /api/admin/win-rate", h.setWinRate)
	mux.HandleFunc("GET /api/price/{pair_id}", h.price)
	mux.HandleFunc("GET /api/prices", h.prices)
	mux.Handle("GET /ws", h.service.Hub())

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}

func (h *Handler) serverTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ServerTime())
}

func (h *Handler) pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.service.Pairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if pairs == nil {
		pairs = []models.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trading_api_client.BalanceResponse{Balance: balance})
}

func (h *Handler) createRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int64            `json:"user_id"`
		PairID    models.PairID    `json:"pair_id"`
		Direction models.Direction `json:"direction"`
		Amount    decimal.Decimal  `json:"amount"`
		Duration  int              `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}
	if req.PairID == 0 || req.Direction == "" || req.Amount.IsZero() || req.Duration == 0 {
		writeError(w, badRequest("Missing required fields"))
		return
	}
	if req.UserID == 0 {
		req.UserID = 1
	}

	round, err := h.service.CreateRound(r.Context(), CreateRoundParams{
		UserID:    req.UserID,
		PairID:    req.PairID,
		Direction: req.Direction,
		Amount:    req.Amount,
		Duration:  req.Duration,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trading_api_client.CreateRoundResponse{
		ID:         models.RoundID(round.ID.String()),
		PairID:     round.PairID,
		Direction:  round.Direction,
		Amount:     round.Amount,
		Duration:   round.Duration,
		StartTime:  trading_api_client.FlexTime{Time: round.StartTime},
		EndTime:    trading_api_client.FlexTime{Time: round.EndTime},
		StartPrice: round.StartPrice,
		Symbol:     round.Symbol,
		Name:       round.Name,
		Status:     string(round.Status),
	})
}

// activeRoundJSON reports end_time in Unix milliseconds.
type activeRoundJSON struct {
	ID         string           `json:"id"`
	PairID     models.PairID    `json:"pair_id"`
	Direction  models.Direction `json:"direction"`
	Amount     decimal.Decimal  `json:"amount"`
	Duration   int              `json:"duration"`
	StartTime  string           `json:"start_time"`
	EndTime    int64            `json:"end_time"`
	StartPrice float64          `json:"start_price"`
	Symbol     string           `json:"symbol"`
	Name       string           `json:"name"`
}

func (h *Handler) activeRounds(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	rounds, err := h.service.ActiveRounds(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]activeRoundJSON, 0, len(rounds))
	for _, rd := range rounds {
		out = append(out, activeRoundJSON{
			ID:         rd.ID.String(),
			PairID:     rd.PairID,
			Direction:  rd.Direction,
			Amount:     rd.Amount,
			Duration:   rd.Duration,
			StartTime:  rd.StartTime.UTC().Format(time.RFC3339Nano),
			EndTime:    rd.EndTime.UnixMilli(),
			StartPrice: rd.StartPrice,
			Symbol:     rd.Symbol,
			Name:       rd.Name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) finishRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Win    *bool            `json:"win"`
		Profit *decimal.Decimal `json:"profit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}
	if req.Win == nil || req.Profit == nil {
		writeError(w, badRequest("win and profit are required"))
		return
	}

	round, balance, err := h.service.FinishRound(r.Context(), r.PathValue("id"), *req.Win, *req.Profit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trading_api_client.FinishRoundResponse{
		RoundID:    models.RoundID(round.ID.String()),
		NewBalance: balance,
	})
}

func (h *Handler) winRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.service.WinRate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trading_api_client.WinRateResponse{WinRate: rate})
}

func (h *Handler) setWinRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WinRate *json.Number `json:"win_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}
	if req.WinRate == nil {
		writeError(w, badRequest("win_rate is required"))
		return
	}
	rate, err := strconv.Atoi(req.WinRate.String())
	if err != nil {
		writeError(w, badRequest("win_rate must be a number"))
		return
	}
	if err := h.service.SetWinRate(r.Context(), rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trading_api_client.WinRateResponse{WinRate: rate})
}

func (h *Handler) price(w http.ResponseWriter, r *http.Request) {
	pairID, err := strconv.ParseInt(r.PathValue("pair_id"), 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid pair id"))
		return
	}
	price, err := h.service.Price(r.Context(), models.PairID(pairID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trading_api_client.PriceResponse{
		PairID:    models.PairID(pairID),
		Price:     price,
		Timestamp: *h.service.ServerTime().Timestamp,
	})
}

func (h *Handler) prices(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.service.Pairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ts := *h.service.ServerTime().Timestamp
	out := make(map[string]trading_api_client.PriceResponse, len(pairs))
	for _, p := range pairs {
		out[strconv.FormatInt(int64(p.ID), 10)] = trading_api_client.PriceResponse{
			PairID:    p.ID,
			Price:     h.service.prices.Quote(p),
			Timestamp: ts,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("user_id")
	if v == "" {
		return 1, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid user_id"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError maps domain errors to status codes with an {"error": ...} body.
func writeError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": reqErr.Message})
	case errors.Is(err, ErrInsufficientBalance):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Insufficient balance"})
	case errors.Is(err, ErrPairNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Pair not found"})
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
	case errors.Is(err, ErrRoundNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Round not found or already finished"})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}
