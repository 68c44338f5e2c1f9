package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for the push connection.
type WebSocketConfig struct {
	URL              string
	UserID           int64
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	MinReconnectWait time.Duration
	MaxReconnectWait time.Duration
	Header           http.Header
}

func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:              "ws://127.0.0.1:5500/ws",
		UserID:           1,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxMessageSize:   64 * 1024,
		MinReconnectWait: time.Second,
		MaxReconnectWait: 30 * time.Second,
	}
}

// WebSocketSource reads push frames from the server and hands them to a
// Dispatcher, reconnecting with exponential backoff until ctx is done.
type WebSocketSource struct {
	config     WebSocketConfig
	dispatcher *Dispatcher
	dialer     *websocket.Dialer
	clock      clockwork.Clock

	connectedMu sync.RWMutex
	connected   bool
}

func NewWebSocketSource(config WebSocketConfig, dispatcher *Dispatcher, clock clockwork.Clock) *WebSocketSource {
	defaults := DefaultWebSocketConfig()
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.MinReconnectWait <= 0 {
		config.MinReconnectWait = defaults.MinReconnectWait
	}
	if config.MaxReconnectWait < config.MinReconnectWait {
		config.MaxReconnectWait = max(defaults.MaxReconnectWait, config.MinReconnectWait)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &WebSocketSource{
		config:     config,
		dispatcher: dispatcher,
		dialer:     websocket.DefaultDialer,
		clock:      clock,
	}
}

func (s *WebSocketSource) Connected() bool {
	s.connectedMu.RLock()
	defer s.connectedMu.RUnlock()
	return s.connected
}

func (s *WebSocketSource) setConnected(v bool) {
	s.connectedMu.Lock()
	s.connected = v
	s.connectedMu.Unlock()
}

// Run blocks until ctx is done.
func (s *WebSocketSource) Run(ctx context.Context) error {
	wait := s.config.MinReconnectWait

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			log.Warn().
				Err(err).
				Str("url", s.config.URL).
				Dur("retry_in", wait).
				Msg("push connection lost")
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		}

		wait = min(wait*2, s.config.MaxReconnectWait)
	}
}

// session holds one connection open until it fails.
func (s *WebSocketSource) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, s.config.Header)
	if err != nil {
		return fmt.Errorf("dial push endpoint: %w", err)
	}
	defer conn.Close()

	s.setConnected(true)
	defer s.setConnected(false)

	log.Info().Str("url", s.config.URL).Msg("push connection established")

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		conn.Close()
	})
	defer stop()

	if err := s.subscribe(conn); err != nil {
		return err
	}

	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.config.WriteTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read push frame: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		if err := s.dispatcher.Dispatch(frame); err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				log.Warn().Err(err).Msg("dropping push frame")
				continue
			}
			return err
		}
	}
}

func (s *WebSocketSource) subscribe(conn *websocket.Conn) error {
	if s.config.UserID == 0 {
		return nil
	}
	frame, err := Encode(EventSubscribeRounds, SubscribeRoundsEvent{UserID: s.config.UserID})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("subscribe to rounds: %w", err)
	}
	return nil
}
