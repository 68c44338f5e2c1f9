package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mcdev12/roundclient/go/clients"
	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func winResult() models.RoundResult {
	return models.RoundResult{
		Win:        true,
		Profit:     decimal.RequireFromString("4.25"),
		NewBalance: decimal.RequireFromString("104.25"),
	}
}

func TestController_CountdownFor(t *testing.T) {
	const minute int64 = 1_699_999_980

	aligned := NewController(Config{AlignToMinute: true}, nil, nil, nil, nil, newFakePresenter(), nil)
	defer aligned.Close()

	tests := []struct {
		offset int64
		want   int
	}{
		{offset: 0, want: 60},
		{offset: 15, want: 45},
		{offset: 30, want: 30},
		{offset: 31, want: 89},
		{offset: 59, want: 61},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset_%d", tt.offset), func(t *testing.T) {
			got := aligned.CountdownFor(minute + tt.offset)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 30)
			assert.LessOrEqual(t, got, 89)
		})
	}

	fixed := NewController(Config{DurationSeconds: 45}, nil, nil, nil, nil, newFakePresenter(), nil)
	defer fixed.Close()
	assert.Equal(t, 45, fixed.CountdownFor(minute+59))
}

func TestController_CreateAndSettleOnExpiry(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	h := newHarness(t, engine, Config{})

	round, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	assert.Equal(t, models.RoundID("42"), round.ID)
	assert.Equal(t, 60, round.CountdownSeconds)
	assert.Equal(t, 64000.5, round.EntryPrice)
	require.Len(t, h.api.createReqs, 1)
	assert.Equal(t, int64(7), h.api.createReqs[0].UserID)
	assert.Equal(t, 60, h.api.createReqs[0].Duration)

	first, ok := h.presenter.firstUpdate("42")
	require.True(t, ok)
	assert.Equal(t, 60, first)

	h.clock.Advance(60 * time.Second)
	assert.Equal(t, models.RoundID("42"), h.presenter.waitRemoved(t))
	h.presenter.waitSettled(t)

	assert.Equal(t, 1, engine.callCount())
	require.Len(t, h.presenter.settlements(), 1)
	assert.True(t, h.presenter.settlements()[0].Win)
	balance, known := h.controller.Balance()
	require.True(t, known)
	assert.True(t, balance.Equal(decimal.RequireFromString("104.25")))
	assert.Empty(t, h.controller.ActiveRounds())

	h.clock.Advance(5 * time.Second)
	h.presenter.assertNoRemoval(t)
	assert.Equal(t, 1, engine.callCount())
}

func TestController_CreateAlignsToMinute(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{AlignToMinute: true})

	round, err := h.controller.Create(context.Background(), 1, models.DirectionDown, decimal.NewFromInt(5))
	require.NoError(t, err)

	assert.Equal(t, 45, round.CountdownSeconds)
	assert.Equal(t, 45, h.api.createReqs[0].Duration)
}

func TestController_CreateRejectsInsufficientBalanceWithoutRequest(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(150))

	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, h.api.creates())
	assert.Contains(t, h.presenter.notifications(), "Insufficient balance")
	assert.Empty(t, h.controller.ActiveRounds())
}

func TestController_CreateValidation(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	ctx := context.Background()

	_, err := h.controller.Create(ctx, 1, models.DirectionUp, decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.controller.Create(ctx, 99, models.DirectionUp, decimal.NewFromInt(5))
	require.ErrorIs(t, err, ErrUnknownPair)

	assert.Zero(t, h.api.creates())
}

func TestController_CreateRequiresServerTime(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	h.time.epoch = 0

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))

	require.ErrorIs(t, err, ErrServerTimeUnknown)
	assert.Zero(t, h.api.creates())
}

func TestController_CreateSurfacesServerMessage(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	h.api.createErr = fmt.Errorf("failed to create round: %w", &clients.StatusError{
		StatusCode: 400,
		Message:    "Pair not found",
	})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))

	require.ErrorIs(t, err, clients.ErrUnexpectedStatus)
	assert.Contains(t, h.presenter.notifications(), "Pair not found")
	assert.Empty(t, h.controller.ActiveRounds())
}

func TestController_CreateFallsBackOnInvalidEntryPrice(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	h.api.createResp.StartPrice = 0
	h.presenter.prices[1] = 123.4

	round, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, 123.4, round.EntryPrice)

	h.api.createResp.ID = "43"
	round, err = h.controller.Create(context.Background(), 2, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackPrice, round.EntryPrice)
}

func TestController_ExpiryWinsOverReconciliation(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	engine.gate = make(chan struct{})
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	h.clock.Advance(60 * time.Second)
	engine.waitStarted(t)

	// The server already dropped the round while the settlement is in flight.
	h.api.setActive()
	require.NoError(t, h.controller.Reconcile(context.Background()))
	h.presenter.assertNoRemoval(t)

	round, ok := h.controller.Round("42")
	require.True(t, ok)
	assert.Equal(t, models.RoundStatusSettling, round.Status)

	close(engine.gate)
	h.presenter.waitRemoved(t)
	h.presenter.waitSettled(t)

	assert.Len(t, h.presenter.removals(), 1)
	assert.Len(t, h.presenter.settlements(), 1)
	assert.Equal(t, 1, engine.callCount())
}

func TestController_ReconciliationWinsOverExpiry(t *testing.T) {
	engine := newFakeEngine()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	balanceCalls := h.api.balanceRequests()

	h.api.setActive()
	require.NoError(t, h.controller.Reconcile(context.Background()))
	h.presenter.waitRemoved(t)

	h.clock.Advance(60 * time.Second)
	h.presenter.assertNoRemoval(t)

	assert.Zero(t, engine.callCount())
	assert.Empty(t, h.presenter.settlements())
	assert.Empty(t, h.controller.ActiveRounds())
	assert.Greater(t, h.api.balanceRequests(), balanceCalls)
}

func TestController_ReconcileHydratesServerRound(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	h := newHarness(t, engine, Config{})

	h.api.setActive(summary("9", time.Unix(serverEpoch+25, 0), 60))
	require.NoError(t, h.controller.Reconcile(context.Background()))

	round, ok := h.controller.Round("9")
	require.True(t, ok)
	assert.Equal(t, 60, round.CountdownSeconds)
	assert.Equal(t, 25, countdown.Remaining(round, h.clock.Now()))

	first, ok := h.presenter.firstUpdate("9")
	require.True(t, ok)
	assert.Equal(t, 25, first)

	// A second pass with the same listing changes nothing.
	require.NoError(t, h.controller.Reconcile(context.Background()))
	assert.Len(t, h.controller.ActiveRounds(), 1)

	h.clock.Advance(25 * time.Second)
	assert.Equal(t, models.RoundID("9"), engine.waitStarted(t))
	h.presenter.waitRemoved(t)
}

func TestController_ReconcileDefersHydrationWithoutServerTime(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	h.time.epoch = 0

	h.api.setActive(summary("9", time.Unix(serverEpoch+25, 0), 60))
	require.NoError(t, h.controller.Reconcile(context.Background()))
	assert.Empty(t, h.controller.ActiveRounds())

	h.time.epoch = serverEpoch
	require.NoError(t, h.controller.Reconcile(context.Background()))
	assert.Len(t, h.controller.ActiveRounds(), 1)
}

func TestController_ReconcileListingFailureKeepsRounds(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	h.api.activeErr = errNetwork
	require.ErrorIs(t, h.controller.Reconcile(context.Background()), errNetwork)
	assert.Len(t, h.controller.ActiveRounds(), 1)
}

func TestController_SettlementFailureRemovesAndRetries(t *testing.T) {
	engine := newFakeEngine()
	engine.err = errNetwork
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	balanceCalls := h.api.balanceRequests()

	h.clock.Advance(60 * time.Second)
	h.presenter.waitRemoved(t)

	assert.Empty(t, h.controller.ActiveRounds())
	assert.Empty(t, h.presenter.settlements())
	assert.Greater(t, h.api.balanceRequests(), balanceCalls)

	// The server still lists the round, so the next pass brings it back and
	// settlement runs again.
	h.api.setActive(summary("42", time.Unix(serverEpoch, 0), 60))
	require.NoError(t, h.controller.Reconcile(context.Background()))
	engine.waitStarted(t)
	engine.waitStarted(t)
	h.presenter.waitRemoved(t)
	assert.Equal(t, 2, engine.callCount())
}

func TestController_SettledRoundIsNotHydratedFromStaleListing(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	h.api.setActive(summary("42", time.Unix(serverEpoch+60, 0), 60))

	h.clock.Advance(60 * time.Second)
	h.presenter.waitRemoved(t)

	require.NoError(t, h.controller.Reconcile(context.Background()))
	assert.Empty(t, h.controller.ActiveRounds())
	assert.Equal(t, 1, engine.callCount())
}

func TestController_ReconcileDuringSettlementDoesNotRehydrate(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	h.api.setActive(summary("42", time.Unix(serverEpoch+60, 0), 60))

	reconcileErr := make(chan error, 1)
	h.presenter.setOnRemove(func(models.RoundID) {
		reconcileErr <- h.controller.Reconcile(context.Background())
	})

	h.clock.Advance(60 * time.Second)
	assert.Equal(t, models.RoundID("42"), h.presenter.waitRemoved(t))
	require.NoError(t, <-reconcileErr)
	h.presenter.waitSettled(t)

	assert.Empty(t, h.controller.ActiveRounds())
	assert.Equal(t, 1, h.presenter.draws())
	assert.Len(t, h.presenter.settlements(), 1)

	h.clock.Advance(60 * time.Second)
	h.presenter.assertNoRemoval(t)
	assert.Equal(t, 1, engine.callCount())
}

func TestController_StaleBalanceRefreshDoesNotOverwriteSettlement(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	h.api.setBalance(decimal.NewFromInt(95))
	gate := h.api.gateBalance()
	refreshErr := make(chan error, 1)
	go func() {
		refreshErr <- h.controller.RefreshBalance(context.Background())
	}()
	<-h.api.balanceEntered

	h.clock.Advance(60 * time.Second)
	h.presenter.waitRemoved(t)
	h.presenter.waitSettled(t)
	balance, _ := h.controller.Balance()
	require.True(t, balance.Equal(decimal.RequireFromString("104.25")))

	close(gate)
	require.NoError(t, <-refreshErr)
	balance, _ = h.controller.Balance()
	assert.True(t, balance.Equal(decimal.RequireFromString("104.25")), "got %s", balance)

	h.api.ungateBalance()
	require.NoError(t, h.controller.RefreshBalance(context.Background()))
	balance, _ = h.controller.Balance()
	assert.True(t, balance.Equal(decimal.NewFromInt(95)))
}

func TestController_CreateOfHydratedRoundKeepsIt(t *testing.T) {
	engine := newFakeEngine()
	engine.result = winResult()
	engine.gate = make(chan struct{})
	h := newHarness(t, engine, Config{})

	h.api.setActive(summary("42", time.Unix(serverEpoch+60, 0), 60))
	require.NoError(t, h.controller.Reconcile(context.Background()))
	require.Equal(t, 1, h.presenter.draws())

	h.clock.Advance(60 * time.Second)
	engine.waitStarted(t)

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, 1, h.presenter.draws())
	tracked, ok := h.controller.Round("42")
	require.True(t, ok)
	assert.Equal(t, models.RoundStatusSettling, tracked.Status)

	close(engine.gate)
	assert.Equal(t, models.RoundID("42"), h.presenter.waitRemoved(t))
	h.presenter.waitSettled(t)
	assert.Len(t, h.presenter.settlements(), 1)
	assert.Equal(t, 1, engine.callCount())
}

func TestController_PushBeforeSettleRegistersIsKept(t *testing.T) {
	engine := settlement.NewPushEngine(nil, settlement.DefaultPushTimeout)
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	// Expiry has claimed the round but Settle has not started yet.
	round, ok := h.controller.store.BeginSettle("42")
	require.True(t, ok)

	result := winResult()
	result.RoundID = "42"
	h.controller.HandleRoundFinished(result)
	h.presenter.assertNoRemoval(t)

	settled, err := engine.Settle(context.Background(), round)
	require.NoError(t, err)
	h.controller.finish(round, &settled)

	assert.Equal(t, models.RoundID("42"), h.presenter.waitRemoved(t))
	require.Len(t, h.presenter.settlements(), 1)
	assert.True(t, h.presenter.settlements()[0].Win)
	balance, _ := h.controller.Balance()
	assert.True(t, balance.Equal(result.NewBalance))
}

func TestController_PushSettlesActiveRoundOnce(t *testing.T) {
	engine := newFakeEngine()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	result := winResult()
	result.RoundID = "42"
	h.controller.HandleRoundFinished(result)
	h.presenter.waitRemoved(t)

	h.controller.HandleRoundFinished(result)
	h.presenter.assertNoRemoval(t)

	h.clock.Advance(60 * time.Second)
	h.presenter.assertNoRemoval(t)

	assert.Len(t, h.presenter.settlements(), 1)
	assert.Zero(t, engine.callCount())
	balance, _ := h.controller.Balance()
	assert.True(t, balance.Equal(result.NewBalance))
}

func TestController_PushEngineReceivesResultAfterExpiry(t *testing.T) {
	engine := settlement.NewPushEngine(nil, settlement.DefaultPushTimeout)
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	h.clock.Advance(60 * time.Second)
	require.Eventually(t, func() bool { return engine.Pending("42") }, 2*time.Second, 5*time.Millisecond)

	result := winResult()
	result.RoundID = "42"
	h.controller.HandleRoundFinished(result)
	h.presenter.waitRemoved(t)
	h.presenter.waitSettled(t)

	require.Len(t, h.presenter.settlements(), 1)
	assert.True(t, h.presenter.settlements()[0].NewBalance.Equal(result.NewBalance))
	assert.False(t, engine.Pending("42"))
}

func TestController_PushForUnknownRoundIsIgnored(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})

	h.controller.HandleRoundFinished(models.RoundResult{RoundID: "404", NewBalance: decimal.NewFromInt(1)})

	h.presenter.assertNoRemoval(t)
	balance, _ := h.controller.Balance()
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestController_CloseStopsCountdowns(t *testing.T) {
	engine := newFakeEngine()
	h := newHarness(t, engine, Config{})

	_, err := h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.NoError(t, err)

	h.controller.Close()
	h.clock.Advance(60 * time.Second)
	h.presenter.assertNoRemoval(t)
	assert.Zero(t, engine.callCount())

	_, err = h.controller.Create(context.Background(), 1, models.DirectionUp, decimal.NewFromInt(5))
	require.ErrorIs(t, err, ErrClosed)
}

func TestController_RunReconcilerPolls(t *testing.T) {
	h := newHarness(t, newFakeEngine(), Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.controller.RunReconciler(ctx) }()

	require.Eventually(t, func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return h.api.activeCalls == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(DefaultReconcileInterval)

	require.Eventually(t, func() bool {
		h.api.mu.Lock()
		defer h.api.mu.Unlock()
		return h.api.activeCalls == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestHydratedCountdown(t *testing.T) {
	now := serverEpoch
	seconds := func(v int) *int { return &v }

	tests := []struct {
		name          string
		summary       trading_api_client.RoundSummary
		wantTotal     int
		wantRemaining int
	}{
		{
			name:          "end time in the future",
			summary:       trading_api_client.RoundSummary{Duration: 60, EndTime: trading_api_client.FlexTime{Time: time.Unix(now+25, 0)}},
			wantTotal:     60,
			wantRemaining: 25,
		},
		{
			name:          "end time already passed",
			summary:       trading_api_client.RoundSummary{Duration: 60, EndTime: trading_api_client.FlexTime{Time: time.Unix(now-5, 0)}},
			wantTotal:     60,
			wantRemaining: 0,
		},
		{
			name:          "end time beyond the duration",
			summary:       trading_api_client.RoundSummary{Duration: 30, EndTime: trading_api_client.FlexTime{Time: time.Unix(now+90, 0)}},
			wantTotal:     30,
			wantRemaining: 30,
		},
		{
			name:          "countdown seconds only",
			summary:       trading_api_client.RoundSummary{CountdownSeconds: seconds(40)},
			wantTotal:     40,
			wantRemaining: 40,
		},
		{
			name:          "duration only",
			summary:       trading_api_client.RoundSummary{Duration: 60},
			wantTotal:     60,
			wantRemaining: 60,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, remaining := hydratedCountdown(tt.summary, now)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantRemaining, remaining)
		})
	}
}
