package simserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	pairs    map[models.PairID]models.Pair
	balances map[int64]decimal.Decimal
	rounds   map[uuid.UUID]*RoundRecord
	winRate  int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository(pairs []models.Pair, balances map[int64]decimal.Decimal, winRate int) *MemoryRepository {
	r := &MemoryRepository{
		pairs:    make(map[models.PairID]models.Pair, len(pairs)),
		balances: make(map[int64]decimal.Decimal, len(balances)),
		rounds:   make(map[uuid.UUID]*RoundRecord),
		winRate:  winRate,
	}
	for _, p := range pairs {
		r.pairs[p.ID] = p
	}
	for id, b := range balances {
		r.balances[id] = b
	}
	return r
}

func (r *MemoryRepository) ListPairs(ctx context.Context) ([]models.Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetPair(ctx context.Context, id models.PairID) (models.Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pairs[id]
	if !ok {
		return models.Pair{}, ErrPairNotFound
	}
	return p, nil
}

func (r *MemoryRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.balances[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return b, nil
}

func (r *MemoryRepository) CreateRound(ctx context.Context, round RoundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, ok := r.balances[round.UserID]
	if !ok {
		return ErrUserNotFound
	}
	if balance.LessThan(round.Amount) {
		return ErrInsufficientBalance
	}

	stored := round
	stored.Status = RoundStatusActive
	r.rounds[round.ID] = &stored
	r.balances[round.UserID] = balance.Sub(round.Amount)
	return nil
}

func (r *MemoryRepository) GetRound(ctx context.Context, id uuid.UUID) (RoundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rd, ok := r.rounds[id]
	if !ok {
		return RoundRecord{}, ErrRoundNotFound
	}
	return *rd, nil
}

func (r *MemoryRepository) ActiveRounds(ctx context.Context, userID int64) ([]RoundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RoundRecord
	for _, rd := range r.rounds {
		if rd.UserID == userID && rd.Status == RoundStatusActive {
			out = append(out, *rd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) DueRounds(ctx context.Context, t time.Time) ([]RoundRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RoundRecord
	for _, rd := range r.rounds {
		if rd.Status == RoundStatusActive && !rd.EndTime.After(t) {
			out = append(out, *rd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (r *MemoryRepository) FinishRound(ctx context.Context, id uuid.UUID, outcome Outcome) (RoundRecord, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rd, ok := r.rounds[id]
	if !ok || rd.Status != RoundStatusActive {
		return RoundRecord{}, decimal.Zero, ErrRoundNotFound
	}

	balance := r.balances[rd.UserID]
	if outcome.Win {
		balance = balance.Add(rd.Amount).Add(outcome.Profit)
		r.balances[rd.UserID] = balance
	}
	rd.Status = RoundStatusFinished
	return *rd, balance, nil
}

func (r *MemoryRepository) GetWinRate(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.winRate, nil
}

func (r *MemoryRepository) SetWinRate(ctx context.Context, rate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.winRate = rate
	return nil
}
