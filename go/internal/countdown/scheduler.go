package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultTickInterval is how often remaining time is reported.
const DefaultTickInterval = time.Second

// TickFunc receives the remaining whole seconds; it is never called with a
// value below 1.
type TickFunc func(remainingSeconds int)

// ExpireFunc is called exactly once when the countdown reaches zero.
type ExpireFunc func()

// Scheduler runs one repeating ticker per round.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration

	activeMu sync.Mutex
	active   map[models.RoundID]*countdown
}

type countdown struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (c *countdown) cancel() {
	c.once.Do(func() {
		close(c.stop)
		c.ticker.Stop()
	})
}

func NewScheduler(clock clockwork.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		clock:    clock,
		interval: interval,
		active:   make(map[models.RoundID]*countdown),
	}
}

// Remaining computes the seconds left on a round from its fixed duration and
// the locally measured elapsed time, clamped to [0, CountdownSeconds].
func Remaining(round models.Round, now time.Time) int {
	elapsed := int(now.Sub(round.CountdownStartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := round.CountdownSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Start begins the countdown for a round, replacing any countdown already
// running for the same id. The current remaining value is reported right
// away; a round that has already run out expires without any tick.
func (s *Scheduler) Start(round models.Round, onTick TickFunc, onExpire ExpireFunc) {
	remaining := Remaining(round, s.clock.Now())
	if remaining <= 0 {
		s.Stop(round.ID)
		log.Debug().
			Str("round_id", round.ID.String()).
			Msg("countdown already elapsed - expiring immediately")
		go onExpire()
		return
	}

	cd := &countdown{
		ticker: s.clock.NewTicker(s.interval),
		stop:   make(chan struct{}),
	}
	s.replaceCountdown(round.ID, cd)

	onTick(remaining)

	go s.run(round, cd, onTick, onExpire)

	log.Debug().
		Str("round_id", round.ID.String()).
		Int("remaining_sec", remaining).
		Int("countdown_sec", round.CountdownSeconds).
		Msg("countdown started")
}

func (s *Scheduler) run(round models.Round, cd *countdown, onTick TickFunc, onExpire ExpireFunc) {
	for {
		select {
		case <-cd.stop:
			return
		case <-cd.ticker.Chan():
			// A stop may race with a pending tick.
			select {
			case <-cd.stop:
				return
			default:
			}

			remaining := Remaining(round, s.clock.Now())
			if remaining > 0 {
				onTick(remaining)
				continue
			}

			if !s.removeCountdown(round.ID, cd) {
				return
			}
			cd.cancel()
			log.Debug().Str("round_id", round.ID.String()).Msg("countdown expired")
			onExpire()
			return
		}
	}
}

// Stop cancels the countdown for a round. Safe to call any number of times.
func (s *Scheduler) Stop(id models.RoundID) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if cd, exists := s.active[id]; exists {
		cd.cancel()
		delete(s.active, id)
		log.Debug().Str("round_id", id.String()).Msg("cancelled countdown")
	}
}

// StopAll cancels every running countdown.
func (s *Scheduler) StopAll() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	for id, cd := range s.active {
		cd.cancel()
		delete(s.active, id)
	}
}

// Active reports whether a countdown is running for the round.
func (s *Scheduler) Active(id models.RoundID) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	_, ok := s.active[id]
	return ok
}

// replaceCountdown installs cd, cancelling whatever ran before for the id.
func (s *Scheduler) replaceCountdown(id models.RoundID, cd *countdown) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if existing, exists := s.active[id]; exists {
		existing.cancel()
		log.Debug().Str("round_id", id.String()).Msg("replaced existing countdown")
	}
	s.active[id] = cd
}

// removeCountdown drops cd if it is still the registered countdown for id.
func (s *Scheduler) removeCountdown(id models.RoundID, cd *countdown) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if current, exists := s.active[id]; !exists || current != cd {
		return false
	}
	delete(s.active, id)
	return true
}
