package presenter

import (
	"math"
	"sync"
	"time"

	"github.com/mcdev12/roundclient/go/internal/models"
)

// PriceBook keeps the latest observed price per pair.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[models.PairID]quote
}

type quote struct {
	price float64
	at    time.Time
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[models.PairID]quote)}
}

// Update records a price. Non-positive and non-finite values are dropped.
func (b *PriceBook) Update(pairID models.PairID, price float64, at time.Time) bool {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.prices[pairID]; ok && at.Before(current.at) {
		return false
	}
	b.prices[pairID] = quote{price: price, at: at}
	return true
}

func (b *PriceBook) Price(pairID models.PairID) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.prices[pairID]
	return q.price, ok
}
