package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Reconcile aligns the local rounds with the server's active list. Rounds
// the server no longer lists are dropped without a result; listed rounds
// unknown locally are hydrated with their remaining countdown. Passes never
// overlap: a call made while one is running returns immediately.
func (c *Controller) Reconcile(ctx context.Context) error {
	if !c.reconcileMu.TryLock() {
		log.Debug().Msg("reconciliation already running, skipping")
		return nil
	}
	defer c.reconcileMu.Unlock()

	listedAt := c.clock.Now()
	summaries, err := c.api.GetActiveRounds(ctx, c.cfg.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("reconciliation failed to list active rounds")
		return err
	}

	serverIDs := make(map[models.RoundID]struct{}, len(summaries))
	byID := make(map[models.RoundID]trading_api_client.RoundSummary, len(summaries))
	for _, s := range summaries {
		if s.ID == "" {
			continue
		}
		serverIDs[s.ID] = struct{}{}
		byID[s.ID] = s
	}

	result := c.store.Reconcile(serverIDs, listedAt)

	for _, r := range result.Removed {
		c.scheduler.Stop(r.ID)
		c.presenter.RemoveOrderMarker(r.PairID, r.ID)
		c.rememberSettled(r.ID)
		log.Info().
			Str("round_id", r.ID.String()).
			Int64("pair_id", int64(r.PairID)).
			Msg("round no longer active on server, removed")
	}

	c.pruneSettled()
	hydrated := 0
	for _, id := range result.Missing {
		if c.recentlySettled(id) {
			continue
		}
		if c.hydrate(byID[id]) {
			hydrated++
		}
	}

	if len(result.Removed) > 0 {
		_ = c.RefreshBalance(ctx)
	}

	log.Debug().
		Int("server_rounds", len(serverIDs)).
		Int("removed", len(result.Removed)).
		Int("hydrated", hydrated).
		Msg("reconciliation complete")
	return nil
}

// hydrate starts tracking a round the server lists but the client does not
// know, e.g. one created before a reload.
func (c *Controller) hydrate(s trading_api_client.RoundSummary) bool {
	serverNow, ok := c.timeSource.Now()
	if !ok {
		log.Debug().Str("round_id", s.ID.String()).Msg("deferring hydration: server time unknown")
		return false
	}

	total, remaining := hydratedCountdown(s, serverNow)
	round := models.Round{
		ID:                 s.ID,
		PairID:             s.PairID,
		Direction:          s.Direction,
		Amount:             s.Amount,
		EntryPrice:         c.entryPrice(s.PairID, s.ID, s.StartPrice),
		CountdownSeconds:   total,
		CountdownStartedAt: c.clock.Now().Add(-time.Duration(total-remaining) * time.Second),
		Status:             models.RoundStatusActive,
	}
	if !s.StartTime.IsZero() {
		t := s.StartTime.Time
		round.CreatedAt = &t
	}
	if !s.EndTime.IsZero() {
		t := s.EndTime.Time
		round.EndsAt = &t
	}

	log.Info().
		Str("round_id", s.ID.String()).
		Int64("pair_id", int64(s.PairID)).
		Int("countdown_sec", total).
		Int("remaining_sec", remaining).
		Msg("hydrating round from server")

	return c.track(round)
}

// hydratedCountdown derives the total and remaining countdown of a listed
// round. The remaining value is clamped to [0, total].
func hydratedCountdown(s trading_api_client.RoundSummary, serverNow int64) (total, remaining int) {
	switch {
	case !s.EndTime.IsZero():
		remaining = int(s.EndTime.Unix() - serverNow)
	case s.CountdownSeconds != nil:
		remaining = *s.CountdownSeconds
	default:
		remaining = s.Duration
	}

	total = s.Duration
	if s.CountdownSeconds != nil && *s.CountdownSeconds > total {
		total = *s.CountdownSeconds
	}
	if total <= 0 {
		total = max(remaining, 0)
	}

	remaining = min(max(remaining, 0), total)
	return total, remaining
}

// RunReconciler loads the balance and catalog, then reconciles on every
// interval until ctx is done. The next pass is scheduled after the previous
// one completes.
func (c *Controller) RunReconciler(ctx context.Context) error {
	_ = c.RefreshBalance(ctx)
	_ = c.LoadPairs(ctx)
	_ = c.Reconcile(ctx)

	timer := c.clock.NewTimer(c.cfg.ReconcileInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-c.ctx.Done():
			return nil
		case <-timer.Chan():
			_ = c.Reconcile(ctx)
			timer.Reset(c.cfg.ReconcileInterval)
		}
	}
}
