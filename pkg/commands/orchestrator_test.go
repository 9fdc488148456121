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

package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidfleet/fleetsync/pkg/fleet"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

var errBackendDown = errors.New("backend unavailable")

// fakeAPI fails the device ids listed in failing and records every call.
type fakeAPI struct {
	mu       sync.Mutex
	failing  map[string]bool
	response *models.DeviceUpdate
	calls    []string
}

func (f *fakeAPI) record(op, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, op+":"+deviceID)

	if f.failing[deviceID] {
		return errBackendDown
	}

	return nil
}

func (f *fakeAPI) ConnectDevice(_ context.Context, deviceID string) (*models.DeviceUpdate, error) {
	if err := f.record("connect", deviceID); err != nil {
		return nil, err
	}

	return f.response, nil
}

func (f *fakeAPI) DisconnectDevice(_ context.Context, deviceID string) (*models.DeviceUpdate, error) {
	if err := f.record("disconnect", deviceID); err != nil {
		return nil, err
	}

	return f.response, nil
}

func (f *fakeAPI) UpdateDevice(_ context.Context, deviceID string, _ *models.DeviceUpdate) (*models.DeviceUpdate, error) {
	if err := f.record("update", deviceID); err != nil {
		return nil, err
	}

	return f.response, nil
}

func (f *fakeAPI) RemoveDevice(_ context.Context, deviceID string) error {
	return f.record("remove", deviceID)
}

func (f *fakeAPI) ListDevices(context.Context) ([]models.Device, error) {
	return nil, nil
}

func statusPtr(s models.DeviceStatus) *models.DeviceStatus { return &s }

func intPtr(i int) *int { return &i }

func newTestOrchestrator(api DeviceAPI) (*Orchestrator, *fleet.Store) {
	store := fleet.NewStore(logger.NewTestLogger())
	orch := NewOrchestrator(store, api, time.Second, logger.NewTestLogger())

	return orch, store
}

func seedOffline(store *fleet.Store, ids ...string) {
	for _, id := range ids {
		store.ApplyPush(id, &models.DeviceUpdate{Status: statusPtr(models.DeviceStatusOffline)})
	}
}

func TestExecuteBulkIsolatesFailures(t *testing.T) {
	api := &fakeAPI{failing: map[string]bool{"b": true}}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a", "b", "c")

	res := orch.Execute(context.Background(), []string{"a", "b", "c"}, ActionConnect)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)

	// a and c stay optimistically online; only b rolls back to offline.
	for _, tc := range []struct {
		id   string
		want models.DeviceStatus
	}{
		{"a", models.DeviceStatusOnline},
		{"b", models.DeviceStatusOffline},
		{"c", models.DeviceStatusOnline},
	} {
		d, ok := store.Get(tc.id)
		require.True(t, ok, tc.id)
		assert.Equal(t, tc.want, d.Status, tc.id)
	}

	assert.NoError(t, res.Results[0].Err)
	assert.ErrorIs(t, res.Results[1].Err, ErrCommandFailed)
	assert.NoError(t, res.Results[2].Err)
}

func TestExecuteResultsKeepInputOrder(t *testing.T) {
	api := &fakeAPI{}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a", "b", "c")

	res := orch.Execute(context.Background(), []string{"c", "a", "b"}, ActionConnect)

	ids := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		ids = append(ids, r.DeviceID)
	}

	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestExecuteMergesAuthoritativeResponse(t *testing.T) {
	api := &fakeAPI{response: &models.DeviceUpdate{
		Status:       statusPtr(models.DeviceStatusOnline),
		BatteryLevel: intPtr(55),
	}}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a")

	res := orch.Execute(context.Background(), []string{"a"}, ActionConnect)
	require.Equal(t, 1, res.Succeeded)

	d, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.DeviceStatusOnline, d.Status)
	assert.Equal(t, 55, d.BatteryLevel)
}

func TestExecuteRemove(t *testing.T) {
	api := &fakeAPI{}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a")

	res := orch.Execute(context.Background(), []string{"a"}, ActionRemove)
	require.Equal(t, 1, res.Succeeded)

	_, ok := store.Get("a")
	assert.False(t, ok)
	assert.Contains(t, api.calls, "remove:a")
}

func TestExecuteRemoveFailureReinserts(t *testing.T) {
	api := &fakeAPI{failing: map[string]bool{"a": true}}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a")

	res := orch.Execute(context.Background(), []string{"a"}, ActionRemove)
	require.Equal(t, 1, res.Failed)

	d, ok := store.Get("a")
	require.True(t, ok, "failed remove should restore the device")
	assert.Equal(t, models.DeviceStatusOffline, d.Status)
}

func TestExecuteUnknownDevice(t *testing.T) {
	api := &fakeAPI{}
	orch, _ := newTestOrchestrator(api)

	res := orch.Execute(context.Background(), []string{"ghost"}, ActionDisconnect)

	require.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Results[0].Err, fleet.ErrDeviceNotFound)
	assert.Empty(t, api.calls, "no network call for an unknown device")
}

func TestExecuteUnknownAction(t *testing.T) {
	api := &fakeAPI{}
	orch, store := newTestOrchestrator(api)
	seedOffline(store, "a")

	res := orch.Execute(context.Background(), []string{"a"}, Action("reboot"))

	require.Equal(t, 1, res.Failed)
	assert.Error(t, res.Results[0].Err)
	assert.Empty(t, api.calls)
}
