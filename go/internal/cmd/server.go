package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/models"
)

type statusRound struct {
	ID               models.RoundID     `json:"id"`
	PairID           models.PairID      `json:"pair_id"`
	Direction        models.Direction   `json:"direction"`
	Amount           decimal.Decimal    `json:"amount"`
	EntryPrice       float64            `json:"entry_price"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Remaining        string             `json:"remaining"`
	Urgent           bool               `json:"urgent"`
	Status           models.RoundStatus `json:"status"`
}

type statusResponse struct {
	SessionID  string           `json:"session_id"`
	UserID     int64            `json:"user_id"`
	Strategy   string           `json:"strategy"`
	Balance    *decimal.Decimal `json:"balance"`
	ServerTime *int64           `json:"server_time"`
	Rounds     []statusRound    `json:"rounds"`
}

// setupServer exposes a read-only view of the session for dashboards.
func setupServer(services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.HandleFunc("GET /api/status", services.handleStatus)
	setupHealthCheck(mux)

	return &http.Server{
		Addr:              services.Config.Status.Addr,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Services) status() statusResponse {
	resp := statusResponse{
		SessionID: s.SessionID,
		UserID:    s.Config.UserID,
		Strategy:  string(s.Engine.Strategy()),
		Rounds:    []statusRound{},
	}
	if balance, ok := s.Controller.Balance(); ok {
		resp.Balance = &balance
	}
	if now, ok := s.ServerTime.Now(); ok {
		resp.ServerTime = &now
	}

	now := s.Clock.Now()
	for _, r := range s.Controller.ActiveRounds() {
		remaining := countdown.Remaining(r, now)
		resp.Rounds = append(resp.Rounds, statusRound{
			ID:               r.ID,
			PairID:           r.PairID,
			Direction:        r.Direction,
			Amount:           r.Amount,
			EntryPrice:       r.EntryPrice,
			RemainingSeconds: remaining,
			Remaining:        countdown.Format(remaining),
			Urgent:           countdown.IsUrgent(remaining),
			Status:           r.Status,
		})
	}
	return resp
}

func (s *Services) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		log.Warn().Err(err).Msg("failed to write status response")
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}
