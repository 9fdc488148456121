/*
 * Copyright 2026 DroidFleet Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package transport maintains the single persistent push connection to the
// MDM backend: lifecycle state machine, heartbeat, and automatic
// reconnection with linear backoff.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

var (
	// ErrNotConnected is returned by Send when the channel is not Open.
	// The channel never queues; retry policy belongs to the caller.
	ErrNotConnected = errors.New("transport not connected")

	// ErrReconnectExhausted is surfaced through the error handlers after
	// the last reconnection attempt fails. Recovery requires an explicit
	// Connect call.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrChannelClosed is returned when the channel was closed by an
	// explicit Disconnect.
	ErrChannelClosed = errors.New("channel closed")
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultHeartbeatInterval    = 30 * time.Second
	defaultReconnectInterval    = 3 * time.Second
	defaultMaxReconnectAttempts = 5

	messageBufferSize = 256
)

// Config configures a Channel.
type Config struct {
	URL                  string
	AuthToken            string
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaultHeartbeatInterval
	}

	if out.ReconnectInterval <= 0 {
		out.ReconnectInterval = defaultReconnectInterval
	}

	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	return out
}

// Channel owns at most one live connection at a time and delivers inbound
// messages in wire-receipt order on a single channel.
type Channel struct {
	cfg    Config
	dialer Dialer
	clock  Clock
	log    logger.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	attempts int
	closed   bool
	gen      uint64

	writeMu sync.Mutex

	messages chan models.Message

	stateHandlers []func(State)
	errorHandlers []func(error)
}

// NewChannel creates a channel. The dialer and clock are injectable for
// tests; pass NewWebSocketDialer() and RealClock() in production.
func NewChannel(cfg Config, dialer Dialer, clock Clock, log logger.Logger) *Channel {
	return &Channel{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		clock:    clock,
		log:      log,
		state:    StateClosed,
		messages: make(chan models.Message, messageBufferSize),
	}
}

// Messages returns the ordered inbound message stream. The channel performs
// no reordering or batching.
func (c *Channel) Messages() <-chan models.Message {
	return c.messages
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// OnStateChange registers a handler invoked on every state transition.
// Handlers must be registered before Connect and last for the channel's
// lifetime; there is no removal. Callers needing dynamic listeners should
// register one handler and fan out themselves, as the event router does
// for inbound messages.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnError registers a handler for terminal transport errors, currently only
// ErrReconnectExhausted. Like state handlers, error handlers last for the
// channel's lifetime.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorHandlers = append(c.errorHandlers, fn)
}

// Connect establishes the connection. It is idempotent: a call while
// already Connecting or Open is a no-op. On dial failure it schedules a
// reconnection attempt and returns the wrapped dial error.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}

	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}

	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	conn, err := c.dialer.DialContext(ctx, c.dialURL())
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("Connection attempt failed")
		c.scheduleReconnect(ctx)

		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()

		return ErrChannelClosed
	}

	c.conn = conn
	c.attempts = 0
	c.gen++
	gen := c.gen
	notify = c.setStateLocked(StateOpen)
	c.mu.Unlock()
	notify()

	c.log.Info().Str("url", c.cfg.URL).Msg("Transport connected")

	go c.readLoop(ctx, conn, gen)
	go c.heartbeatLoop(ctx, gen)

	return nil
}

// Disconnect closes the channel terminally: heartbeat stops and no
// reconnection is attempted. This is the only path to a terminal Closed.
func (c *Channel) Disconnect() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.gen++
	conn := c.conn
	c.conn = nil
	notify := c.setStateLocked(StateClosed)
	c.mu.Unlock()
	notify()

	c.log.Info().Msg("Transport disconnected by client")

	if conn != nil {
		return conn.Close()
	}

	return nil
}

// Send delivers a message if the channel is Open; otherwise it fails with
// ErrNotConnected.
func (c *Channel) Send(msg models.Message) error {
	c.mu.Lock()

	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteJSON(&msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}

	return nil
}

func (c *Channel) dialURL() string {
	if c.cfg.AuthToken == "" {
		return c.cfg.URL
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}

	q := u.Query()
	q.Set("token", c.cfg.AuthToken)
	u.RawQuery = q.Encode()

	return u.String()
}

// readLoop feeds inbound frames to the message channel until the
// connection dies or the context is canceled. The gen guard keeps a stale
// loop from acting on behalf of a newer connection.
func (c *Channel) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		var msg models.Message

		if err := conn.ReadJSON(&msg); err != nil {
			c.handleConnectionLost(ctx, gen, err)
			return
		}

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) handleConnectionLost(ctx context.Context, gen uint64, cause error) {
	c.mu.Lock()

	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("Transport connection lost")
	c.scheduleReconnect(ctx)
}

// scheduleReconnect arms a retry after baseInterval * attemptNumber. Once
// the attempt counter exceeds the configured maximum the channel goes
// Closed and ErrReconnectExhausted is surfaced to the error handlers.
func (c *Channel) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()

	if c.closed || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}

	c.attempts++
	attempt := c.attempts

	if attempt > c.cfg.MaxReconnectAttempts {
		notify := c.setStateLocked(StateClosed)
		handlers := append(([]func(error))(nil), c.errorHandlers...)
		c.mu.Unlock()
		notify()

		c.log.Error().
			Int("attempts", attempt-1).
			Msg("Reconnect attempts exhausted, giving up")

		for _, fn := range handlers {
			fn(ErrReconnectExhausted)
		}

		return
	}

	notify := c.setStateLocked(StateReconnecting)
	c.mu.Unlock()
	notify()

	delay := c.cfg.ReconnectInterval * time.Duration(attempt)

	c.log.Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Scheduling reconnect")

	go func() {
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return
		}

		if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrChannelClosed) {
			c.log.Debug().Err(err).Msg("Reconnect attempt failed")
		}
	}()
}

// heartbeatLoop sends a ping every interval while Open. The ping is a
// liveness signal for intermediaries; failure detection is the read loop's
// close/error path.
func (c *Channel) heartbeatLoop(ctx context.Context, gen uint64) {
	for {
		select {
		case <-c.clock.After(c.cfg.HeartbeatInterval):
		case <-ctx.Done():
			return
		}

		c.mu.Lock()
		stale := c.gen != gen || c.state != StateOpen
		c.mu.Unlock()

		if stale {
			return
		}

		ping, err := models.NewMessage(models.MessageTypePing, nil)
		if err != nil {
			continue
		}

		if err := c.Send(ping); err != nil {
			c.log.Debug().Err(err).Msg("Heartbeat send failed")
			return
		}
	}
}

// setStateLocked transitions state and returns the handlers to notify.
// Callers hold mu and must invoke the returned notify func after
// unlocking, so handlers are free to call back into the channel.
func (c *Channel) setStateLocked(s State) func() {
	if c.state == s {
		return func() {}
	}

	c.state = s
	handlers := append(([]func(State))(nil), c.stateHandlers...)

	return func() {
		for _, fn := range handlers {
			fn(s)
		}
	}
}
