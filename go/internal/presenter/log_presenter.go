package presenter

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/lifecycle"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Marker is the presenter's view of a drawn round.
type Marker struct {
	lifecycle.OrderMarker
	Remaining int
}

// LogPresenter is a headless presentation surface. Markers are kept in
// memory and every change is logged; user-facing lines go to out.
type LogPresenter struct {
	out        io.Writer
	prices     *PriceBook
	payoutRate decimal.Decimal

	mu      sync.Mutex
	markers map[models.RoundID]*Marker
	balance decimal.Decimal
}

var _ lifecycle.Presenter = (*LogPresenter)(nil)

func NewLogPresenter(out io.Writer, prices *PriceBook, payoutRate decimal.Decimal) *LogPresenter {
	if out == nil {
		out = io.Discard
	}
	if prices == nil {
		prices = NewPriceBook()
	}
	if !payoutRate.IsPositive() {
		payoutRate = settlement.DefaultPayoutRate
	}
	return &LogPresenter{
		out:        out,
		prices:     prices,
		payoutRate: payoutRate,
		markers:    make(map[models.RoundID]*Marker),
	}
}

func (p *LogPresenter) Prices() *PriceBook { return p.prices }

func (p *LogPresenter) DrawOrderMarker(marker lifecycle.OrderMarker) {
	p.mu.Lock()
	p.markers[marker.RoundID] = &Marker{OrderMarker: marker, Remaining: marker.CountdownSeconds}
	p.mu.Unlock()

	potential := settlement.Profit(marker.Amount, true, p.payoutRate)
	log.Info().
		Str("round_id", marker.RoundID.String()).
		Int64("pair_id", int64(marker.PairID)).
		Str("direction", marker.Direction.Label()).
		Float64("price", marker.Price).
		Str("amount", marker.Amount.String()).
		Str("potential_profit", potential.String()).
		Int("countdown_sec", marker.CountdownSeconds).
		Msg("order marker drawn")

	p.printf("%s %s on pair %d at %.2f (stake %s, pays %s), %s left\n",
		marker.Direction.Label(), marker.RoundID, marker.PairID, marker.Price,
		marker.Amount.StringFixed(2), potential.StringFixed(2), countdown.Format(marker.CountdownSeconds))
}

func (p *LogPresenter) RemoveOrderMarker(pairID models.PairID, roundID models.RoundID) {
	p.mu.Lock()
	_, ok := p.markers[roundID]
	delete(p.markers, roundID)
	p.mu.Unlock()

	if ok {
		log.Debug().Str("round_id", roundID.String()).Int64("pair_id", int64(pairID)).Msg("order marker removed")
	}
}

func (p *LogPresenter) UpdateOrderCountdown(pairID models.PairID, roundID models.RoundID, remainingSeconds int) {
	p.mu.Lock()
	m, ok := p.markers[roundID]
	if ok {
		m.Remaining = remainingSeconds
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	event := log.Debug()
	if countdown.IsUrgent(remainingSeconds) {
		event = log.Info()
	}
	event.
		Str("round_id", roundID.String()).
		Str("countdown", countdown.Format(remainingSeconds)).
		Bool("urgent", countdown.IsUrgent(remainingSeconds)).
		Msg("countdown")
}

func (p *LogPresenter) CurrentPrice(pairID models.PairID) (float64, bool) {
	return p.prices.Price(pairID)
}

func (p *LogPresenter) BalanceChanged(balance decimal.Decimal) {
	p.mu.Lock()
	changed := !balance.Equal(p.balance)
	p.balance = balance
	p.mu.Unlock()

	if changed {
		log.Info().Str("balance", balance.String()).Msg("balance updated")
	}
}

func (p *LogPresenter) RoundSettled(round models.Round, result models.RoundResult) {
	outcome := "LOST"
	if result.Win {
		outcome = "WON"
	}
	p.printf("round %s %s: profit %s, balance %s\n",
		round.ID, outcome, result.Profit.StringFixed(2), result.NewBalance.StringFixed(2))
}

func (p *LogPresenter) Notify(message string) {
	log.Info().Str("message", message).Msg("notification")
	p.printf("%s\n", message)
}

// Markers returns the drawn markers ordered by remaining time.
func (p *LogPresenter) Markers() []Marker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Marker, 0, len(p.markers))
	for _, m := range p.markers {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remaining == out[j].Remaining {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].Remaining < out[j].Remaining
	})
	return out
}

func (p *LogPresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
