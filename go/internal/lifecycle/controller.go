package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundclient/go/clients"
	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/rounds"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceUnknown      = errors.New("balance not loaded yet")
	ErrServerTimeUnknown   = errors.New("server time not known yet")
	ErrUnknownPair         = errors.New("unknown trading pair")
	ErrClosed              = errors.New("controller closed")
)

const (
	DefaultDurationSeconds   = 60
	DefaultFallbackPrice     = 100.0
	DefaultReconcileInterval = 2 * time.Second

	// settledRetention keeps ids of acknowledged rounds so a listing fetched
	// before the acknowledgement does not hydrate them again.
	settledRetention = 30 * time.Second
)

// API is the request/response surface the controller uses.
type API interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetPairs(ctx context.Context) ([]models.Pair, error)
	GetActiveRounds(ctx context.Context, userID int64) ([]trading_api_client.RoundSummary, error)
	CreateRound(ctx context.Context, req trading_api_client.CreateRoundRequest) (trading_api_client.CreateRoundResponse, error)
}

// TimeSource reports the last known server time in epoch seconds.
type TimeSource interface {
	Now() (int64, bool)
}

type Config struct {
	UserID            int64
	DurationSeconds   int
	AlignToMinute     bool
	FallbackPrice     float64
	ReconcileInterval time.Duration
}

// Controller owns the round lifecycle: creation, reconciliation with the
// server's active list and settlement on expiry or push. It is the only
// writer of the round store and of the balance.
type Controller struct {
	cfg        Config
	api        API
	timeSource TimeSource
	scheduler  *countdown.Scheduler
	engine     settlement.Engine
	presenter  Presenter
	clock      clockwork.Clock
	store      *rounds.Store

	balanceMu    sync.RWMutex
	balance      decimal.Decimal
	balanceKnown bool
	// settlementGen counts balances taken from settlement results. A
	// refresh whose request predates the latest one is dropped.
	settlementGen uint64

	pairsMu sync.RWMutex
	pairs   map[models.PairID]models.Pair

	reconcileMu sync.Mutex

	settledMu sync.Mutex
	settled   map[models.RoundID]time.Time

	lifeMu   sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewController(cfg Config, api API, timeSource TimeSource, scheduler *countdown.Scheduler, engine settlement.Engine, presenter Presenter, clock clockwork.Clock) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = DefaultDurationSeconds
	}
	if cfg.FallbackPrice <= 0 {
		cfg.FallbackPrice = DefaultFallbackPrice
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if scheduler == nil {
		scheduler = countdown.NewScheduler(clock, countdown.DefaultTickInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		api:        api,
		timeSource: timeSource,
		scheduler:  scheduler,
		engine:     engine,
		presenter:  presenter,
		clock:      clock,
		store:      rounds.NewStore(),
		pairs:      make(map[models.PairID]models.Pair),
		settled:    make(map[models.RoundID]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Balance returns the last balance reported by the server.
func (c *Controller) Balance() (decimal.Decimal, bool) {
	c.balanceMu.RLock()
	defer c.balanceMu.RUnlock()
	return c.balance, c.balanceKnown
}

func (c *Controller) balanceGen() uint64 {
	c.balanceMu.RLock()
	defer c.balanceMu.RUnlock()
	return c.settlementGen
}

// setSettledBalance applies the new_balance of a settlement result.
func (c *Controller) setSettledBalance(balance decimal.Decimal) {
	c.balanceMu.Lock()
	c.balance = balance
	c.balanceKnown = true
	c.settlementGen++
	c.balanceMu.Unlock()

	c.presenter.BalanceChanged(balance)
}

// setRefreshedBalance applies a fetched balance unless a settlement wrote
// the balance after the fetch was issued.
func (c *Controller) setRefreshedBalance(gen uint64, balance decimal.Decimal) bool {
	c.balanceMu.Lock()
	if c.settlementGen != gen {
		c.balanceMu.Unlock()
		return false
	}
	c.balance = balance
	c.balanceKnown = true
	c.balanceMu.Unlock()

	c.presenter.BalanceChanged(balance)
	return true
}

// ActiveRounds returns a snapshot of the tracked rounds.
func (c *Controller) ActiveRounds() []models.Round {
	return c.store.All()
}

// Round returns a tracked round by id.
func (c *Controller) Round(id models.RoundID) (models.Round, bool) {
	return c.store.Get(id)
}

// Pairs returns the loaded instrument catalog ordered by id.
func (c *Controller) Pairs() []models.Pair {
	c.pairsMu.RLock()
	defer c.pairsMu.RUnlock()

	out := make([]models.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RefreshBalance replaces the balance with the server's value.
func (c *Controller) RefreshBalance(ctx context.Context) error {
	gen := c.balanceGen()
	balance, err := c.api.GetBalance(ctx, c.cfg.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("balance refresh failed")
		return err
	}
	if !c.setRefreshedBalance(gen, balance) {
		log.Debug().
			Str("balance", balance.String()).
			Msg("dropping balance refresh: a settlement updated the balance meanwhile")
	}
	return nil
}

// LoadPairs fetches the instrument catalog.
func (c *Controller) LoadPairs(ctx context.Context) error {
	pairs, err := c.api.GetPairs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("loading pairs failed")
		return err
	}

	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()
	c.pairs = make(map[models.PairID]models.Pair, len(pairs))
	for _, p := range pairs {
		c.pairs[p.ID] = p
	}
	log.Info().Int("pairs", len(pairs)).Msg("loaded trading pairs")
	return nil
}

func (c *Controller) knownPair(id models.PairID) bool {
	c.pairsMu.RLock()
	defer c.pairsMu.RUnlock()
	if len(c.pairs) == 0 {
		return true
	}
	_, ok := c.pairs[id]
	return ok
}

// CountdownFor returns the countdown for a round created at server time now.
// With minute alignment the round ends on the next minute boundary, or on
// the one after when less than half of the current minute remains.
func (c *Controller) CountdownFor(now int64) int {
	if !c.cfg.AlignToMinute {
		return c.cfg.DurationSeconds
	}
	remaining := 60 - int(now%60)
	if remaining < 30 {
		remaining += 60
	}
	return remaining
}

// Create places a new round. Balance and server time are checked locally
// before any request is made.
func (c *Controller) Create(ctx context.Context, pairID models.PairID, direction models.Direction, amount decimal.Decimal) (models.Round, error) {
	if c.isClosed() {
		return models.Round{}, ErrClosed
	}
	if !amount.IsPositive() {
		return models.Round{}, ErrInvalidAmount
	}

	balance, known := c.Balance()
	if !known {
		return models.Round{}, ErrBalanceUnknown
	}
	if amount.GreaterThan(balance) {
		log.Info().
			Str("amount", amount.String()).
			Str("balance", balance.String()).
			Msg("rejected round: insufficient balance")
		c.presenter.Notify("Insufficient balance")
		return models.Round{}, ErrInsufficientBalance
	}

	if !c.knownPair(pairID) {
		return models.Round{}, fmt.Errorf("%w: %d", ErrUnknownPair, pairID)
	}

	serverNow, ok := c.timeSource.Now()
	if !ok {
		log.Info().Int64("pair_id", int64(pairID)).Msg("deferring round creation: server time unknown")
		return models.Round{}, ErrServerTimeUnknown
	}
	countdownSeconds := c.CountdownFor(serverNow)

	resp, err := c.api.CreateRound(ctx, trading_api_client.CreateRoundRequest{
		UserID:    c.cfg.UserID,
		PairID:    pairID,
		Direction: direction,
		Amount:    amount,
		Duration:  countdownSeconds,
	})
	if err != nil {
		c.presenter.Notify(userMessage(err))
		return models.Round{}, err
	}

	round := models.Round{
		ID:                 resp.ID,
		PairID:             pairID,
		Direction:          direction,
		Amount:             amount,
		EntryPrice:         c.entryPrice(pairID, resp.ID, resp.StartPrice),
		CountdownSeconds:   countdownSeconds,
		CountdownStartedAt: c.clock.Now(),
		Status:             models.RoundStatusActive,
	}
	if !resp.StartTime.IsZero() {
		t := resp.StartTime.Time
		round.CreatedAt = &t
	}
	if !resp.EndTime.IsZero() {
		t := resp.EndTime.Time
		round.EndsAt = &t
	}

	c.track(round)

	log.Info().
		Str("round_id", round.ID.String()).
		Int64("pair_id", int64(pairID)).
		Str("direction", direction.Label()).
		Str("amount", amount.String()).
		Float64("entry_price", round.EntryPrice).
		Int("countdown_sec", countdownSeconds).
		Msg("round created")

	// The server debits the stake on creation.
	_ = c.RefreshBalance(ctx)

	return round, nil
}

// entryPrice validates the server's price, substituting the last known
// price of the pair or the nominal fallback so a marker can still be drawn.
func (c *Controller) entryPrice(pairID models.PairID, roundID models.RoundID, price float64) float64 {
	if validPrice(price) {
		return price
	}
	fallback := c.cfg.FallbackPrice
	if last, ok := c.presenter.CurrentPrice(pairID); ok && validPrice(last) {
		fallback = last
	}
	log.Warn().
		Str("round_id", roundID.String()).
		Int64("pair_id", int64(pairID)).
		Float64("server_price", price).
		Float64("fallback_price", fallback).
		Msg("invalid entry price from server, using fallback")
	return fallback
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// track inserts the round, draws it and starts its countdown. A round
// already tracked under the same id is left untouched.
func (c *Controller) track(round models.Round) bool {
	if !c.store.InsertNew(round) {
		log.Debug().Str("round_id", round.ID.String()).Msg("round already tracked")
		return false
	}

	c.presenter.DrawOrderMarker(OrderMarker{
		PairID:           round.PairID,
		RoundID:          round.ID,
		Direction:        round.Direction,
		Price:            round.EntryPrice,
		CreatedAt:        createdAt(round),
		CountdownSeconds: round.CountdownSeconds,
		EndsAt:           round.EndsAt,
		Amount:           round.Amount,
	})

	pairID, id := round.PairID, round.ID
	c.scheduler.Start(round,
		func(remaining int) {
			c.presenter.UpdateOrderCountdown(pairID, id, remaining)
		},
		func() {
			c.onExpire(id)
		},
	)
	return true
}

func createdAt(round models.Round) time.Time {
	if round.CreatedAt != nil {
		return *round.CreatedAt
	}
	return round.CountdownStartedAt
}

// onExpire runs when a round's countdown reaches zero.
func (c *Controller) onExpire(id models.RoundID) {
	round, ok := c.store.BeginSettle(id)
	if !ok {
		log.Debug().Str("round_id", id.String()).Msg("expiry ignored: round already settling or gone")
		return
	}
	if !c.beginWork() {
		return
	}
	defer c.inFlight.Done()

	log.Info().
		Str("round_id", id.String()).
		Str("strategy", string(c.engine.Strategy())).
		Msg("countdown expired - settling round")

	result, err := c.engine.Settle(c.ctx, round)
	if err != nil {
		// The round is dropped anyway so the UI does not sit at 00:00; if the
		// server still lists it, the next reconciliation hydrates it again and
		// settlement is retried.
		log.Warn().
			Err(err).
			Str("round_id", id.String()).
			Bool("reconciliation_gap", true).
			Msg("settlement failed, removing round locally")
		c.finish(round, nil)
		if c.ctx.Err() == nil {
			_ = c.RefreshBalance(c.ctx)
		}
		return
	}

	c.finish(round, &result)
}

// HandleRoundFinished applies a round_finished push from the server.
func (c *Controller) HandleRoundFinished(result models.RoundResult) {
	if receiver, ok := c.engine.(settlement.PushReceiver); ok && receiver.Deliver(result) {
		return
	}

	round, ok := c.store.BeginSettle(result.RoundID)
	if !ok {
		log.Debug().Str("round_id", result.RoundID.String()).Msg("push ignored: round already settling or gone")
		return
	}

	log.Info().
		Str("round_id", result.RoundID.String()).
		Bool("win", result.Win).
		Msg("round settled by server push")
	c.finish(round, &result)
}

// finish removes a settled round and applies the result, if any.
func (c *Controller) finish(round models.Round, result *models.RoundResult) {
	// Tombstone first: reconciliation must never find a settled round both
	// absent from the store and untombstoned.
	if result != nil {
		c.rememberSettled(round.ID)
	}
	c.store.MarkSettled(round.ID)
	c.store.Remove(round.ID)
	c.scheduler.Stop(round.ID)
	c.presenter.RemoveOrderMarker(round.PairID, round.ID)

	if result == nil {
		return
	}

	c.setSettledBalance(result.NewBalance)
	c.presenter.RoundSettled(round, *result)

	log.Info().
		Str("round_id", round.ID.String()).
		Bool("win", result.Win).
		Str("profit", result.Profit.String()).
		Str("new_balance", result.NewBalance.String()).
		Msg("round settled")
}

func (c *Controller) rememberSettled(id models.RoundID) {
	c.settledMu.Lock()
	defer c.settledMu.Unlock()
	c.settled[id] = c.clock.Now()
}

func (c *Controller) recentlySettled(id models.RoundID) bool {
	c.settledMu.Lock()
	defer c.settledMu.Unlock()
	_, ok := c.settled[id]
	return ok
}

func (c *Controller) pruneSettled() {
	c.settledMu.Lock()
	defer c.settledMu.Unlock()

	cutoff := c.clock.Now().Add(-settledRetention)
	for id, at := range c.settled {
		if at.Before(cutoff) {
			delete(c.settled, id)
		}
	}
}

func (c *Controller) beginWork() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return false
	}
	c.inFlight.Add(1)
	return true
}

func (c *Controller) isClosed() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.closed
}

// Close stops every countdown and waits for in-flight settlements, which
// are cancelled. Rounds stay active server-side.
func (c *Controller) Close() {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.closed = true
	c.lifeMu.Unlock()

	c.cancel()
	c.scheduler.StopAll()
	c.inFlight.Wait()
	log.Info().Int("tracked_rounds", c.store.Len()).Msg("round controller closed")
}

func userMessage(err error) string {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	return "Could not create round: " + err.Error()
}
