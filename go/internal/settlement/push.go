package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultPushTimeout bounds how long an expired round waits for its push.
const DefaultPushTimeout = 10 * time.Second

var ErrPushTimeout = errors.New("no round_finished push received in time")

// PushEngine is passive: the server tracks expiry and pushes the result.
// Settle parks until that push is delivered.
type PushEngine struct {
	clock   clockwork.Clock
	timeout time.Duration

	waitersMu sync.Mutex
	waiters   map[models.RoundID]chan models.RoundResult
	// early holds results pushed before Settle registered for the round.
	early map[models.RoundID]heldResult
}

type heldResult struct {
	result     models.RoundResult
	receivedAt time.Time
}

func NewPushEngine(clock clockwork.Clock, timeout time.Duration) *PushEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	return &PushEngine{
		clock:   clock,
		timeout: timeout,
		waiters: make(map[models.RoundID]chan models.RoundResult),
		early:   make(map[models.RoundID]heldResult),
	}
}

func (e *PushEngine) Strategy() Strategy { return StrategyPush }

func (e *PushEngine) Settle(ctx context.Context, round models.Round) (models.RoundResult, error) {
	ch := make(chan models.RoundResult, 1)

	e.waitersMu.Lock()
	if held, ok := e.early[round.ID]; ok {
		delete(e.early, round.ID)
		e.waitersMu.Unlock()
		log.Debug().Str("round_id", round.ID.String()).Msg("using round_finished push received before expiry handling")
		return held.result, nil
	}
	e.waiters[round.ID] = ch
	e.waitersMu.Unlock()

	defer func() {
		e.waitersMu.Lock()
		if current, ok := e.waiters[round.ID]; ok && current == ch {
			delete(e.waiters, round.ID)
		}
		e.waitersMu.Unlock()
	}()

	timer := e.clock.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.Chan():
		log.Warn().
			Str("round_id", round.ID.String()).
			Dur("timeout", e.timeout).
			Msg("timed out waiting for round_finished push")
		return models.RoundResult{}, ErrPushTimeout
	case <-ctx.Done():
		return models.RoundResult{}, ctx.Err()
	}
}

// Deliver hands a pushed result to the Settle call waiting for it. With no
// waiter the result is held for one timeout period so a Settle call that is
// about to start still receives it, and Deliver returns false.
func (e *PushEngine) Deliver(result models.RoundResult) bool {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()

	now := e.clock.Now()
	e.pruneEarly(now)

	ch, ok := e.waiters[result.RoundID]
	if !ok {
		e.early[result.RoundID] = heldResult{result: result, receivedAt: now}
		return false
	}
	delete(e.waiters, result.RoundID)
	ch <- result
	return true
}

// Pending reports whether a Settle call is waiting on the round.
func (e *PushEngine) Pending(id models.RoundID) bool {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	_, ok := e.waiters[id]
	return ok
}

// Held reports whether a result is waiting for a Settle call on the round.
func (e *PushEngine) Held(id models.RoundID) bool {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	e.pruneEarly(e.clock.Now())
	_, ok := e.early[id]
	return ok
}

// pruneEarly must be called with waitersMu held.
func (e *PushEngine) pruneEarly(now time.Time) {
	cutoff := now.Add(-e.timeout)
	for id, held := range e.early {
		if held.receivedAt.Before(cutoff) {
			delete(e.early, id)
		}
	}
}
