package servertime

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval keeps countdown displays live without flooding the endpoint.
const DefaultPollInterval = time.Second

// Fetcher reads the authoritative server clock in epoch seconds.
type Fetcher interface {
	FetchServerTime(ctx context.Context) (int64, error)
}

// Source holds the last known server time. It never extrapolates between
// polls and never falls back to the local wall clock: until the first
// successful poll Now reports that the time is unknown.
type Source struct {
	fetcher  Fetcher
	clock    clockwork.Clock
	interval time.Duration

	mu    sync.RWMutex
	epoch int64
	known bool
}

func NewSource(fetcher Fetcher, clock clockwork.Clock, interval time.Duration) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Source{
		fetcher:  fetcher,
		clock:    clock,
		interval: interval,
	}
}

// Now returns the last polled server time and whether one is known yet.
func (s *Source) Now() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch, s.known
}

// Poll fetches the server time once. A failed poll keeps the previous value.
func (s *Source) Poll(ctx context.Context) error {
	epoch, err := s.fetcher.FetchServerTime(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("server time poll failed, keeping previous value")
		return err
	}
	s.Observe(epoch)
	return nil
}

// Observe records a server time reading from any source (poll or push).
// Readings older than the current value are ignored so Now never goes back.
func (s *Source) Observe(epoch int64) bool {
	if epoch <= 0 {
		log.Warn().Int64("server_time", epoch).Msg("ignoring invalid server time")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known && epoch < s.epoch {
		log.Debug().
			Int64("server_time", epoch).
			Int64("current", s.epoch).
			Msg("ignoring stale server time")
		return false
	}
	s.epoch = epoch
	s.known = true
	return true
}

// Run polls immediately and then every interval until ctx is cancelled.
// The next poll is only scheduled once the previous one has returned, so
// responses are never applied out of order.
func (s *Source) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("server time polling started")

	_ = s.Poll(ctx)

	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("server time polling stopped")
			return nil
		case <-timer.Chan():
			_ = s.Poll(ctx)
			timer.Reset(s.interval)
		}
	}
}
