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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

func newTestAPIClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewAPIClient(models.APIConfig{
		BaseURL:   srv.URL,
		AuthToken: "test-token",
	}, logger.NewTestLogger())
}

func TestConnectDeviceRequest(t *testing.T) {
	var gotMethod, gotPath, gotAuth string

	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "device": {"status": "online"}}`))
	})

	update, err := client.ConnectDevice(context.Background(), "d1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/devices/d1/connect", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)

	require.NotNil(t, update)
	require.NotNil(t, update.Status)
	assert.Equal(t, models.DeviceStatusOnline, *update.Status)
}

func TestMutateBackendRejection(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error": "device is enrolling"}`))
	})

	_, err := client.DisconnectDevice(context.Background(), "d1")
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "device is enrolling")
}

func TestMutateHTTPError(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	err := client.RemoveDevice(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrCommandFailed)
}

func TestListDevices(t *testing.T) {
	var gotPath string

	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"devices": [
			{"id": "d1", "name": "Pixel 8", "status": "online"},
			{"id": "d2", "name": "Galaxy S24", "status": "offline"}
		]}`))
	})

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/api/devices", gotPath)
	require.Len(t, devices, 2)
	assert.Equal(t, "d1", devices[0].ID)
	assert.Equal(t, models.DeviceStatusOffline, devices[1].Status)
}

func TestDeviceIDPathEscaped(t *testing.T) {
	var gotEscaped string

	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true}`))
	})

	_, err := client.ConnectDevice(context.Background(), "serial/01")
	require.NoError(t, err)

	assert.Equal(t, "/api/devices/serial%2F01/connect", gotEscaped)
}
