package simserver

import (
	"math/rand/v2"
	"sync"

	"github.com/mcdev12/roundclient/go/internal/models"
)

const (
	defaultBasePrice = 100.0
	// jitterFraction bounds each quote around the symbol's base price.
	jitterFraction = 0.001
)

var basePrices = map[string]float64{
	"BTCUSDT": 65000.0,
	"ETHUSDT": 3500.0,
	"BNBUSDT": 600.0,
	"SOLUSDT": 150.0,
	"ADAUSDT": 0.5,
	"AAPL":    175.0,
}

// PriceSimulator quotes a price for a pair: its symbol's base price plus a
// small uniform jitter.
type PriceSimulator struct {
	mu     sync.Mutex
	random func() float64
	bases  map[string]float64
}

func NewPriceSimulator(random func() float64) *PriceSimulator {
	if random == nil {
		random = rand.Float64
	}
	bases := make(map[string]float64, len(basePrices))
	for k, v := range basePrices {
		bases[k] = v
	}
	return &PriceSimulator{random: random, bases: bases}
}

// SetBase overrides the base price of a symbol.
func (s *PriceSimulator) SetBase(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[symbol] = price
}

func (s *PriceSimulator) Quote(pair models.Pair) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.bases[pair.Symbol]
	if !ok {
		base = defaultBasePrice
	}
	jitter := (s.random()*2 - 1) * base * jitterFraction
	return base + jitter
}
