package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/shopspring/decimal"
)

var errNetwork = errors.New("connection refused")

type fakeAPI struct {
	mu sync.Mutex

	balance    decimal.Decimal
	balanceErr error
	pairs      []models.Pair
	active     []trading_api_client.RoundSummary
	activeErr  error

	createResp trading_api_client.CreateRoundResponse
	createErr  error

	createReqs   []trading_api_client.CreateRoundRequest
	balanceCalls int
	activeCalls  int

	// When balanceGate is set, GetBalance reads the balance, signals
	// balanceEntered and answers only once the gate is closed.
	balanceGate    chan struct{}
	balanceEntered chan struct{}
}

func (f *fakeAPI) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	f.mu.Lock()
	f.balanceCalls++
	balance, err, gate := f.balance, f.balanceErr, f.balanceGate
	f.mu.Unlock()

	if gate != nil {
		f.balanceEntered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return decimal.Decimal{}, ctx.Err()
		}
	}
	return balance, err
}

func (f *fakeAPI) gateBalance() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceGate = make(chan struct{})
	f.balanceEntered = make(chan struct{}, 1)
	return f.balanceGate
}

func (f *fakeAPI) ungateBalance() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceGate = nil
}

func (f *fakeAPI) GetPairs(ctx context.Context) ([]models.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs, nil
}

func (f *fakeAPI) GetActiveRounds(ctx context.Context, userID int64) ([]trading_api_client.RoundSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeCalls++
	return append([]trading_api_client.RoundSummary(nil), f.active...), f.activeErr
}

func (f *fakeAPI) CreateRound(ctx context.Context, req trading_api_client.CreateRoundRequest) (trading_api_client.CreateRoundResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	return f.createResp, f.createErr
}

func (f *fakeAPI) setActive(rounds ...trading_api_client.RoundSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = rounds
}

func (f *fakeAPI) setBalance(b decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

func (f *fakeAPI) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createReqs)
}

func (f *fakeAPI) balanceRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

type fakeTime struct {
	mu    sync.Mutex
	epoch int64
}

func (f *fakeTime) Now() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch, f.epoch > 0
}

type countdownUpdate struct {
	roundID   models.RoundID
	remaining int
}

type fakePresenter struct {
	mu sync.Mutex

	prices   map[models.PairID]float64
	markers  map[models.RoundID]OrderMarker
	drawn    int
	removed  []models.RoundID
	settled  []models.RoundResult
	balances []decimal.Decimal
	notices  []string
	updates  []countdownUpdate

	removedCh chan models.RoundID
	settledCh chan models.RoundID
	// onRemove runs once, on the first marker removal, before it is reported.
	onRemove func(models.RoundID)
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		prices:    make(map[models.PairID]float64),
		markers:   make(map[models.RoundID]OrderMarker),
		removedCh: make(chan models.RoundID, 16),
		settledCh: make(chan models.RoundID, 16),
	}
}

func (p *fakePresenter) DrawOrderMarker(marker OrderMarker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawn++
	p.markers[marker.RoundID] = marker
}

func (p *fakePresenter) RemoveOrderMarker(pairID models.PairID, roundID models.RoundID) {
	p.mu.Lock()
	delete(p.markers, roundID)
	p.removed = append(p.removed, roundID)
	hook := p.onRemove
	p.onRemove = nil
	p.mu.Unlock()

	if hook != nil {
		hook(roundID)
	}
	p.removedCh <- roundID
}

func (p *fakePresenter) setOnRemove(fn func(models.RoundID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemove = fn
}

func (p *fakePresenter) draws() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drawn
}

func (p *fakePresenter) UpdateOrderCountdown(pairID models.PairID, roundID models.RoundID, remaining int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, countdownUpdate{roundID: roundID, remaining: remaining})
}

func (p *fakePresenter) CurrentPrice(pairID models.PairID) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[pairID]
	return price, ok
}

func (p *fakePresenter) BalanceChanged(balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = append(p.balances, balance)
}

func (p *fakePresenter) RoundSettled(round models.Round, result models.RoundResult) {
	p.mu.Lock()
	p.settled = append(p.settled, result)
	p.mu.Unlock()
	p.settledCh <- round.ID
}

func (p *fakePresenter) Notify(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, message)
}

func (p *fakePresenter) waitRemoved(t *testing.T) models.RoundID {
	t.Helper()
	select {
	case id := <-p.removedCh:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("expected marker removal")
		return ""
	}
}

// waitSettled returns once a settlement has been fully applied, balance
// included.
func (p *fakePresenter) waitSettled(t *testing.T) models.RoundID {
	t.Helper()
	select {
	case id := <-p.settledCh:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("expected round settlement")
		return ""
	}
}

func (p *fakePresenter) assertNoRemoval(t *testing.T) {
	t.Helper()
	select {
	case id := <-p.removedCh:
		t.Fatalf("unexpected marker removal for %s", id)
	case <-time.After(30 * time.Millisecond):
	}
}

func (p *fakePresenter) removals() []models.RoundID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RoundID(nil), p.removed...)
}

func (p *fakePresenter) settlements() []models.RoundResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RoundResult(nil), p.settled...)
}

func (p *fakePresenter) notifications() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notices...)
}

func (p *fakePresenter) firstUpdate(id models.RoundID) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.updates {
		if u.roundID == id {
			return u.remaining, true
		}
	}
	return 0, false
}

// fakeEngine settles with a canned result. When gate is set, Settle blocks
// until the gate is closed or the context ends.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []models.RoundID
	result  models.RoundResult
	err     error
	gate    chan struct{}
	started chan models.RoundID
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan models.RoundID, 16)}
}

func (e *fakeEngine) Strategy() settlement.Strategy { return settlement.StrategyClient }

func (e *fakeEngine) Settle(ctx context.Context, round models.Round) (models.RoundResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, round.ID)
	gate, result, err := e.gate, e.result, e.err
	e.mu.Unlock()

	e.started <- round.ID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.RoundResult{}, ctx.Err()
		}
	}
	if err != nil {
		return models.RoundResult{}, err
	}
	result.RoundID = round.ID
	return result, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) waitStarted(t *testing.T) models.RoundID {
	t.Helper()
	select {
	case id := <-e.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("expected settlement to start")
		return ""
	}
}

type harness struct {
	clock      *clockwork.FakeClock
	api        *fakeAPI
	time       *fakeTime
	presenter  *fakePresenter
	controller *Controller
}

// serverEpoch sits 15s into a minute.
const serverEpoch int64 = 1_699_999_995

func newHarness(t *testing.T, engine settlement.Engine, cfg Config) *harness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	api := &fakeAPI{
		balance: decimal.NewFromInt(100),
		pairs:   []models.Pair{{ID: 1, Symbol: "BTC/USD"}, {ID: 2, Symbol: "ETH/USD"}},
		createResp: trading_api_client.CreateRoundResponse{
			ID:         "42",
			PairID:     1,
			StartPrice: 64000.5,
		},
	}
	ts := &fakeTime{epoch: serverEpoch}
	presenter := newFakePresenter()
	if cfg.UserID == 0 {
		cfg.UserID = 7
	}

	c := NewController(cfg, api, ts, countdown.NewScheduler(clock, time.Second), engine, presenter, clock)
	t.Cleanup(c.Close)

	ctx := context.Background()
	if err := c.RefreshBalance(ctx); err != nil {
		t.Fatalf("refresh balance: %v", err)
	}
	if err := c.LoadPairs(ctx); err != nil {
		t.Fatalf("load pairs: %v", err)
	}

	return &harness{clock: clock, api: api, time: ts, presenter: presenter, controller: c}
}

func summary(id string, endTime time.Time, duration int) trading_api_client.RoundSummary {
	return trading_api_client.RoundSummary{
		ID:         models.RoundID(id),
		PairID:     1,
		Direction:  models.DirectionUp,
		Amount:     decimal.NewFromInt(5),
		Duration:   duration,
		EndTime:    trading_api_client.FlexTime{Time: endTime},
		StartPrice: 64000,
	}
}
