package simserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/push"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RequestError is a client mistake reported with status 400.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

type Config struct {
	StartBalance   decimal.Decimal
	DefaultWinRate int
	PayoutRate     decimal.Decimal
	MaxDuration    int

	// SweepGrace delays server-side settlement past end_time so clients
	// drawing their own outcome get to finish first.
	SweepGrace         time.Duration
	SweepInterval      time.Duration
	ServerTimeInterval time.Duration
	PriceInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartBalance:       decimal.NewFromInt(10000),
		DefaultWinRate:     settlement.DefaultWinRate,
		PayoutRate:         settlement.DefaultPayoutRate,
		MaxDuration:        3600,
		SweepGrace:         2 * time.Second,
		SweepInterval:      time.Second,
		ServerTimeInterval: time.Second,
		PriceInterval:      2 * time.Second,
	}
}

// Service implements the backend: round bookkeeping, the sweeper that
// settles overdue rounds and the periodic push broadcasts.
type Service struct {
	cfg       Config
	repo      Repository
	clock     clockwork.Clock
	prices    *PriceSimulator
	hub       *ConnectionManager
	publisher Publisher
	roll      settlement.Roller
}

func NewService(cfg Config, repo Repository, clock clockwork.Clock, prices *PriceSimulator, hub *ConnectionManager, publisher Publisher, roll settlement.Roller) *Service {
	defaults := DefaultConfig()
	if !cfg.PayoutRate.IsPositive() {
		cfg.PayoutRate = defaults.PayoutRate
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaults.MaxDuration
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.ServerTimeInterval <= 0 {
		cfg.ServerTimeInterval = defaults.ServerTimeInterval
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = defaults.PriceInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if prices == nil {
		prices = NewPriceSimulator(nil)
	}
	if hub == nil {
		hub = NewConnectionManager(DefaultConnectionConfig())
	}
	if roll == nil {
		roll = settlement.RollPercent
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		clock:     clock,
		prices:    prices,
		hub:       hub,
		publisher: publisher,
		roll:      roll,
	}
}

func (s *Service) Hub() *ConnectionManager { return s.hub }

// ServerTime reports the current UTC time.
func (s *Service) ServerTime() push.ServerTimeEvent {
	now := s.clock.Now().UTC()
	ts := float64(now.UnixNano()) / float64(time.Second)
	return push.ServerTimeEvent{
		Time:      now.Format("2006-01-02T15:04:05.999999"),
		Timestamp: &ts,
		Formatted: now.Format("15:04:05"),
	}
}

func (s *Service) Pairs(ctx context.Context) ([]models.Pair, error) {
	return s.repo.ListPairs(ctx)
}

func (s *Service) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *Service) Price(ctx context.Context, pairID models.PairID) (float64, error) {
	pair, err := s.repo.GetPair(ctx, pairID)
	if err != nil {
		return 0, err
	}
	return s.prices.Quote(pair), nil
}

type CreateRoundParams struct {
	UserID    int64
	PairID    models.PairID
	Direction models.Direction
	Amount    decimal.Decimal
	Duration  int
}

// CreateRound opens a round at the current simulated price and debits the
// stake.
func (s *Service) CreateRound(ctx context.Context, p CreateRoundParams) (RoundRecord, error) {
	if p.Direction != models.DirectionUp && p.Direction != models.DirectionDown {
		return RoundRecord{}, badRequest("Direction must be BUY or SELL")
	}
	if !p.Amount.IsPositive() {
		return RoundRecord{}, badRequest("Amount must be positive")
	}
	if p.Duration <= 0 || p.Duration > s.cfg.MaxDuration {
		return RoundRecord{}, badRequest("Duration must be between 1 and %d seconds", s.cfg.MaxDuration)
	}

	pair, err := s.repo.GetPair(ctx, p.PairID)
	if err != nil {
		return RoundRecord{}, err
	}

	start := s.clock.Now().UTC()
	round := RoundRecord{
		ID:         uuid.New(),
		UserID:     p.UserID,
		PairID:     pair.ID,
		Direction:  p.Direction,
		Amount:     p.Amount,
		Duration:   p.Duration,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(p.Duration) * time.Second),
		StartPrice: s.prices.Quote(pair),
		Status:     RoundStatusActive,
		Symbol:     pair.Symbol,
		Name:       pair.Name,
	}
	if err := s.repo.CreateRound(ctx, round); err != nil {
		return RoundRecord{}, err
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Int64("user_id", round.UserID).
		Str("symbol", pair.Symbol).
		Str("direction", round.Direction.Label()).
		Str("amount", round.Amount.String()).
		Int("duration", round.Duration).
		Float64("start_price", round.StartPrice).
		Msg("round created")

	return round, nil
}

func (s *Service) ActiveRounds(ctx context.Context, userID int64) ([]RoundRecord, error) {
	return s.repo.ActiveRounds(ctx, userID)
}

// FinishRound applies a client-drawn outcome.
func (s *Service) FinishRound(ctx context.Context, roundID string, win bool, profit decimal.Decimal) (RoundRecord, decimal.Decimal, error) {
	id, err := uuid.Parse(roundID)
	if err != nil {
		return RoundRecord{}, decimal.Zero, ErrRoundNotFound
	}
	if (win && profit.IsNegative()) || (!win && profit.IsPositive()) {
		return RoundRecord{}, decimal.Zero, badRequest("profit does not match outcome")
	}

	current, err := s.repo.GetRound(ctx, id)
	if err != nil {
		return RoundRecord{}, decimal.Zero, err
	}
	if current.Status != RoundStatusActive {
		return RoundRecord{}, decimal.Zero, ErrRoundNotFound
	}

	outcome := Outcome{
		Win:      win,
		Profit:   profit,
		EndPrice: s.prices.Quote(models.Pair{ID: current.PairID, Symbol: current.Symbol}),
	}
	round, balance, err := s.repo.FinishRound(ctx, id, outcome)
	if err != nil {
		return RoundRecord{}, decimal.Zero, err
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Int64("user_id", round.UserID).
		Bool("win", win).
		Str("profit", profit.String()).
		Str("new_balance", balance.String()).
		Msg("round finished by client")

	return round, balance, nil
}

func (s *Service) WinRate(ctx context.Context) (int, error) {
	return s.repo.GetWinRate(ctx)
}

func (s *Service) SetWinRate(ctx context.Context, rate int) error {
	if rate < 0 || rate > 100 {
		return badRequest("win_rate must be between 0 and 100")
	}
	if err := s.repo.SetWinRate(ctx, rate); err != nil {
		return err
	}
	log.Info().Int("win_rate", rate).Msg("win rate updated")
	return nil
}

// Sweep settles every active round past its end time plus the grace period
// and pushes round_finished to its owner. It returns the number settled.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.SweepGrace)
	due, err := s.repo.DueRounds(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list due rounds: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	winRate, err := s.repo.GetWinRate(ctx)
	if err != nil {
		log.Warn().Err(err).Int("fallback", s.cfg.DefaultWinRate).Msg("win rate unavailable for sweep")
		winRate = s.cfg.DefaultWinRate
	}

	settled := 0
	for _, rd := range due {
		win := settlement.Wins(winRate, s.roll())
		outcome := Outcome{
			Win:      win,
			Profit:   settlement.Profit(rd.Amount, win, s.cfg.PayoutRate),
			EndPrice: s.prices.Quote(models.Pair{ID: rd.PairID, Symbol: rd.Symbol}),
		}

		finished, balance, err := s.repo.FinishRound(ctx, rd.ID, outcome)
		if errors.Is(err, ErrRoundNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("round_id", rd.ID.String()).Msg("failed to settle overdue round")
			continue
		}
		settled++

		log.Info().
			Str("round_id", finished.ID.String()).
			Int64("user_id", finished.UserID).
			Bool("win", win).
			Str("profit", outcome.Profit.String()).
			Str("new_balance", balance.String()).
			Msg("round settled by sweeper")

		s.emit(ctx, finished.UserID, push.EventRoundFinished, finished.ID.String(), push.RoundFinishedEvent{
			RoundID:    models.RoundID(finished.ID.String()),
			UserID:     finished.UserID,
			Win:        win,
			Profit:     outcome.Profit,
			Amount:     finished.Amount,
			Direction:  finished.Direction,
			Symbol:     finished.Symbol,
			Name:       finished.Name,
			StartPrice: finished.StartPrice,
			EndPrice:   outcome.EndPrice,
			NewBalance: balance,
		})
	}
	return settled, nil
}

// BroadcastServerTime pushes server_time to every connection.
func (s *Service) BroadcastServerTime(ctx context.Context) {
	s.emit(ctx, 0, push.EventServerTime, "", s.ServerTime())
}

// BroadcastPrices pushes a price_update per active pair.
func (s *Service) BroadcastPrices(ctx context.Context) {
	pairs, err := s.repo.ListPairs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("price broadcast skipped")
		return
	}
	ts := float64(s.clock.Now().UnixNano()) / float64(time.Second)
	for _, p := range pairs {
		s.emit(ctx, 0, push.EventPriceUpdate, "", push.PriceUpdateEvent{
			PairID:    p.ID,
			Price:     s.prices.Quote(p),
			Timestamp: ts,
		})
	}
}

func (s *Service) emit(ctx context.Context, userID int64, event push.EventType, msgID string, data any) {
	if userID != 0 {
		s.hub.BroadcastToUser(userID, event, data)
	} else {
		s.hub.Broadcast(event, data)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, msgID, data); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("failed to publish event")
	}
}

// Run drives the sweeper and the periodic broadcasts until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	sweep := s.clock.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	serverTime := s.clock.NewTicker(s.cfg.ServerTimeInterval)
	defer serverTime.Stop()
	prices := s.clock.NewTicker(s.cfg.PriceInterval)
	defer prices.Stop()

	log.Info().
		Dur("sweep_grace", s.cfg.SweepGrace).
		Dur("sweep_interval", s.cfg.SweepInterval).
		Msg("simulator service started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.Chan():
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		case <-serverTime.Chan():
			s.BroadcastServerTime(ctx)
		case <-prices.Chan():
			s.BroadcastPrices(ctx)
		}
	}
}
