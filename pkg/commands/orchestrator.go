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

// Package commands translates user-initiated device actions into REST
// calls with optimistic store feedback and per-device failure isolation.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droidfleet/fleetsync/pkg/fleet"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

var (
	// ErrCommandFailed wraps a command whose network call errored or timed
	// out; only that device's optimistic mutation is rolled back.
	ErrCommandFailed = errors.New("command failed")

	errUnknownAction = errors.New("unknown action")
)

// Action is a user-initiated device command.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionRemove     Action = "remove"
)

// DeviceResult is the outcome for one device in a bulk call.
type DeviceResult struct {
	DeviceID      string
	CorrelationID uuid.UUID
	Err           error
}

// BulkResult aggregates per-device outcomes. One device's failure never
// rolls back its siblings.
type BulkResult struct {
	Succeeded int
	Failed    int
	Results   []DeviceResult
}

// Orchestrator issues commands against the store and the REST backend.
type Orchestrator struct {
	store   *fleet.Store
	api     DeviceAPI
	log     logger.Logger
	timeout time.Duration
}

// NewOrchestrator creates an orchestrator. Timeout bounds each device's
// request; zero means the API client's own timeout is the only bound.
func NewOrchestrator(store *fleet.Store, api DeviceAPI, timeout time.Duration, log logger.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Orchestrator{
		store:   store,
		api:     api,
		log:     log,
		timeout: timeout,
	}
}

// Execute runs the action against each device independently and reports
// the aggregate outcome. Failures are collected, never escalated as an
// all-or-nothing transaction.
func (o *Orchestrator) Execute(ctx context.Context, deviceIDs []string, action Action) BulkResult {
	results := make([]DeviceResult, len(deviceIDs))

	var wg sync.WaitGroup

	for i, id := range deviceIDs {
		wg.Add(1)

		go func(i int, deviceID string) {
			defer wg.Done()
			results[i] = o.executeOne(ctx, deviceID, action)
		}(i, id)
	}

	wg.Wait()

	out := BulkResult{Results: results}

	for _, r := range results {
		if r.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}

	o.log.Info().
		Str("action", string(action)).
		Int("succeeded", out.Succeeded).
		Int("failed", out.Failed).
		Msg("Bulk command completed")

	return out
}

func (o *Orchestrator) executeOne(ctx context.Context, deviceID string, action Action) DeviceResult {
	result := DeviceResult{DeviceID: deviceID}

	cid, err := o.begin(deviceID, action)
	if err != nil {
		result.Err = err
		return result
	}

	result.CorrelationID = cid

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	authoritative, err := o.call(reqCtx, deviceID, action)
	if err != nil {
		if rbErr := o.store.Rollback(cid); rbErr != nil && !errors.Is(rbErr, fleet.ErrUnknownCommand) {
			o.log.Warn().Err(rbErr).Str("device_id", deviceID).Msg("Rollback failed")
		}

		result.Err = fmt.Errorf("%w: %s %s: %w", ErrCommandFailed, action, deviceID, err)

		o.log.Warn().
			Err(err).
			Str("device_id", deviceID).
			Str("action", string(action)).
			Msg("Device command failed, optimistic mutation rolled back")

		return result
	}

	// A command_status push may already have confirmed this correlation id.
	if err := o.store.Confirm(cid); err != nil && !errors.Is(err, fleet.ErrUnknownCommand) {
		o.log.Warn().Err(err).Str("device_id", deviceID).Msg("Confirm failed")
	}

	// Authoritative post-mutation state from the response is merged
	// exactly like a push update.
	if authoritative != nil {
		o.store.ApplyPush(deviceID, authoritative)
	}

	return result
}

func (o *Orchestrator) begin(deviceID string, action Action) (uuid.UUID, error) {
	switch action {
	case ActionConnect:
		status := models.DeviceStatusOnline
		return o.store.BeginOptimistic(deviceID, &models.DeviceUpdate{Status: &status})
	case ActionDisconnect:
		status := models.DeviceStatusOffline
		return o.store.BeginOptimistic(deviceID, &models.DeviceUpdate{Status: &status})
	case ActionRemove:
		return o.store.BeginOptimisticRemove(deviceID)
	default:
		return uuid.Nil, fmt.Errorf("%w: %s", errUnknownAction, action)
	}
}

func (o *Orchestrator) call(ctx context.Context, deviceID string, action Action) (*models.DeviceUpdate, error) {
	switch action {
	case ActionConnect:
		return o.api.ConnectDevice(ctx, deviceID)
	case ActionDisconnect:
		return o.api.DisconnectDevice(ctx, deviceID)
	case ActionRemove:
		return nil, o.api.RemoveDevice(ctx, deviceID)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownAction, action)
	}
}
