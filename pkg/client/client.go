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

// Package client wires the fleet synchronization components into one
// service: transport, event routing, subscriptions, the device store, and
// the command orchestrator.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droidfleet/fleetsync/pkg/bus"
	"github.com/droidfleet/fleetsync/pkg/commands"
	"github.com/droidfleet/fleetsync/pkg/events"
	"github.com/droidfleet/fleetsync/pkg/fleet"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
	"github.com/droidfleet/fleetsync/pkg/subscriptions"
	"github.com/droidfleet/fleetsync/pkg/transport"
)

const defaultRefreshInterval = 5 * time.Minute

// Deps are the injectable collaborators; tests swap in fakes, production
// uses Defaults.
type Deps struct {
	Dialer  transport.Dialer
	Clock   transport.Clock
	API     commands.DeviceAPI
	BusConn bus.Conn
}

// Service is the composition root of the fleet synchronization layer. It
// is constructed explicitly and passed by reference to consumers; there is
// no package-level instance.
type Service struct {
	cfg *models.ServiceConfig
	log logger.Logger

	channel   *transport.Channel
	router    *events.Router
	subs      *subscriptions.Registry
	store     *fleet.Store
	orch      *commands.Orchestrator
	api       commands.DeviceAPI
	publisher *bus.Publisher
	clock     transport.Clock

	refreshCh chan []models.Device

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a service with production collaborators.
func New(cfg *models.ServiceConfig, log logger.Logger) (*Service, error) {
	deps := Deps{
		Dialer: transport.NewWebSocketDialer(),
		Clock:  transport.RealClock(),
		API:    commands.NewAPIClient(cfg.API, log),
	}

	if cfg.NATS.URL != "" {
		publisher, err := bus.Connect(cfg.NATS, log)
		if err != nil {
			return nil, err
		}

		return newService(cfg, deps, publisher, log), nil
	}

	return newService(cfg, deps, nil, log), nil
}

// NewWithDeps builds a service with injected collaborators.
func NewWithDeps(cfg *models.ServiceConfig, deps Deps, log logger.Logger) *Service {
	var publisher *bus.Publisher
	if deps.BusConn != nil {
		publisher = bus.NewPublisher(deps.BusConn, cfg.NATS.SubjectPrefix, log)
	}

	return newService(cfg, deps, publisher, log)
}

func newService(cfg *models.ServiceConfig, deps Deps, publisher *bus.Publisher, log logger.Logger) *Service {
	store := fleet.NewStore(log)

	channel := transport.NewChannel(transport.Config{
		URL:                  cfg.Transport.URL,
		AuthToken:            cfg.Transport.AuthToken,
		HeartbeatInterval:    time.Duration(cfg.Transport.HeartbeatInterval),
		ReconnectInterval:    time.Duration(cfg.Transport.ReconnectInterval),
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
	}, deps.Dialer, deps.Clock, log)

	s := &Service{
		cfg:       cfg,
		log:       log,
		channel:   channel,
		router:    events.NewRouter(log),
		subs:      subscriptions.NewRegistry(channel, log),
		store:     store,
		orch:      commands.NewOrchestrator(store, deps.API, time.Duration(cfg.API.RequestTimeout), log),
		api:       deps.API,
		publisher: publisher,
		clock:     deps.Clock,
		refreshCh: make(chan []models.Device, 1),
	}

	if publisher != nil {
		store.SetChangeListener(publisher.PublishChange)
	}

	s.registerHandlers()

	return s
}

func (s *Service) registerHandlers() {
	for _, msgType := range []string{
		models.MessageTypeDeviceUpdate,
		models.MessageTypeDeviceConnected,
		models.MessageTypeDeviceDisconnected,
	} {
		s.router.Register(msgType, s.handleDeviceEvent)
	}

	s.router.Register(models.MessageTypeCommandStatus, s.handleCommandStatus)
	s.router.Register(models.MessageTypeSystemAlert, s.handleAlert)
	s.router.Register(models.MessageTypeAIInsight, s.handleAlert)

	s.router.Register(models.Wildcard, func(msg models.Message) {
		s.log.Debug().Str("type", msg.Type).Msg("Push message received")
	})

	s.channel.OnStateChange(func(state transport.State) {
		s.log.Info().Str("state", state.String()).Msg("Connection state changed")

		if state == transport.StateOpen {
			s.subs.Replay()
		}
	})

	s.channel.OnError(func(err error) {
		if errors.Is(err, transport.ErrReconnectExhausted) {
			s.log.Error().Msg("Connection lost, manual reconnect required")
		}
	})
}

// Start connects the transport, subscribes the configured topics, and
// launches the apply and refresh loops. The apply loop is the single
// consumer of the ordered inbound stream; every push and refresh mutation
// reaches the store through it.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, topic := range s.cfg.Topics {
		if err := s.subs.Subscribe(topic); err != nil {
			return err
		}
	}

	s.wg.Add(2)
	go s.applyLoop(ctx)
	go s.refreshLoop(ctx)

	if err := s.channel.Connect(ctx); err != nil {
		// Dial failure is not fatal: the reconnect machinery is already
		// running and will keep trying up to its attempt limit.
		s.log.Warn().Err(err).Msg("Initial connect failed, reconnecting")
	}

	return nil
}

// Stop disconnects terminally and waits for the loops to drain.
func (s *Service) Stop() {
	if err := s.channel.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("Disconnect failed")
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Bus close failed")
		}
	}
}

func (s *Service) applyLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.channel.Messages():
			s.router.Dispatch(msg)
		case devices := <-s.refreshCh:
			s.store.ApplyFullRefresh(devices)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.RefreshInterval)
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	if err := s.Refresh(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Initial fleet refresh failed")
	}

	for {
		select {
		case <-s.clock.After(interval):
		case <-ctx.Done():
			return
		}

		if err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Fleet refresh failed")
		}
	}
}

// Refresh fetches the authoritative device list and hands it to the apply
// loop for reconciliation.
func (s *Service) Refresh(ctx context.Context) error {
	devices, err := s.api.ListDevices(ctx)
	if err != nil {
		return err
	}

	select {
	case s.refreshCh <- devices:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (s *Service) handleDeviceEvent(msg models.Message) {
	var payload models.DeviceEventPayload

	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.log.Warn().Err(err).Str("type", msg.Type).Msg("Malformed device event")
		return
	}

	if payload.DeviceID == "" {
		s.log.Warn().Str("type", msg.Type).Msg("Device event without device id")
		return
	}

	update := payload.DeviceUpdate

	// Connect/disconnect events imply a status even when the payload
	// leaves it out.
	if update.Status == nil {
		switch msg.Type {
		case models.MessageTypeDeviceConnected:
			status := models.DeviceStatusOnline
			update.Status = &status
		case models.MessageTypeDeviceDisconnected:
			status := models.DeviceStatusOffline
			update.Status = &status
		}
	}

	if update.LastSeen == nil && !msg.Timestamp.IsZero() {
		ts := msg.Timestamp
		update.LastSeen = &ts
	}

	s.store.ApplyPush(payload.DeviceID, &update)
}

func (s *Service) handleCommandStatus(msg models.Message) {
	var payload models.CommandStatusPayload

	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.log.Warn().Err(err).Msg("Malformed command status")
		return
	}

	cid, err := uuid.Parse(payload.CorrelationID)
	if err != nil {
		s.log.Debug().Str("correlation_id", payload.CorrelationID).Msg("Command status without usable correlation id")
		return
	}

	switch payload.Status {
	case "completed", "success":
		// Server-side confirmation can beat the HTTP response.
		if err := s.store.Confirm(cid); err != nil && !errors.Is(err, fleet.ErrUnknownCommand) {
			s.log.Warn().Err(err).Msg("Command status confirm failed")
		}
	case "failed":
		if err := s.store.Rollback(cid); err != nil && !errors.Is(err, fleet.ErrUnknownCommand) {
			s.log.Warn().Err(err).Msg("Command status rollback failed")
		}
	default:
		s.log.Debug().
			Str("status", payload.Status).
			Str("device_id", payload.DeviceID).
			Msg("Command status update")
	}
}

func (s *Service) handleAlert(msg models.Message) {
	s.log.Info().
		Str("type", msg.Type).
		RawJSON("data", msg.Data).
		Msg("Server notification")
}

// Devices queries the current fleet snapshot.
func (s *Service) Devices(q fleet.Query) fleet.Page {
	if q.PageSize <= 0 {
		q.PageSize = s.cfg.PageSize
	}

	return s.store.Query(q)
}

// Summary returns fleet-level status counts.
func (s *Service) Summary() fleet.Summary {
	return s.store.Summarize()
}

// Execute runs a bulk device command.
func (s *Service) Execute(ctx context.Context, deviceIDs []string, action commands.Action) commands.BulkResult {
	return s.orch.Execute(ctx, deviceIDs, action)
}

// Subscribe adds a push topic.
func (s *Service) Subscribe(topic string) error {
	return s.subs.Subscribe(topic)
}

// Unsubscribe removes a push topic.
func (s *Service) Unsubscribe(topic string) error {
	return s.subs.Unsubscribe(topic)
}

// ConnectionState exposes the transport lifecycle state for the UI's
// reconnecting / connection-lost indicators.
func (s *Service) ConnectionState() transport.State {
	return s.channel.State()
}

// Store exposes the device store for read access.
func (s *Service) Store() *fleet.Store {
	return s.store
}
