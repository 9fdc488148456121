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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

const defaultRequestTimeout = 10 * time.Second

// DeviceAPI is the REST collaborator the orchestrator issues commands
// against. Responses may carry the authoritative post-mutation device
// state, which is merged like a push update.
type DeviceAPI interface {
	ConnectDevice(ctx context.Context, deviceID string) (*models.DeviceUpdate, error)
	DisconnectDevice(ctx context.Context, deviceID string) (*models.DeviceUpdate, error)
	UpdateDevice(ctx context.Context, deviceID string, update *models.DeviceUpdate) (*models.DeviceUpdate, error)
	RemoveDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// APIClient is the HTTP implementation of DeviceAPI.
type APIClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	log       logger.Logger
}

// NewAPIClient creates a client for the MDM backend REST API.
func NewAPIClient(cfg models.APIConfig, log logger.Logger) *APIClient {
	timeout := time.Duration(cfg.RequestTimeout)
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &APIClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

// commandResponse is the backend's envelope for mutation endpoints.
type commandResponse struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Device  *models.DeviceUpdate `json:"device,omitempty"`
}

func (c *APIClient) ConnectDevice(ctx context.Context, deviceID string) (*models.DeviceUpdate, error) {
	return c.mutate(ctx, http.MethodPost, c.devicePath(deviceID, "connect"), nil)
}

func (c *APIClient) DisconnectDevice(ctx context.Context, deviceID string) (*models.DeviceUpdate, error) {
	return c.mutate(ctx, http.MethodPost, c.devicePath(deviceID, "disconnect"), nil)
}

func (c *APIClient) UpdateDevice(ctx context.Context, deviceID string, update *models.DeviceUpdate) (*models.DeviceUpdate, error) {
	return c.mutate(ctx, http.MethodPatch, c.devicePath(deviceID, ""), update)
}

func (c *APIClient) RemoveDevice(ctx context.Context, deviceID string) error {
	_, err := c.mutate(ctx, http.MethodDelete, c.devicePath(deviceID, ""), nil)
	return err
}

// ListDevices fetches the complete current device list for full-refresh
// reconciliation.
func (c *APIClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/devices", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Devices []models.Device `json:"devices"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}

	return payload.Devices, nil
}

func (c *APIClient) devicePath(deviceID, suffix string) string {
	p := c.baseURL + "/api/devices/" + url.PathEscape(deviceID)
	if suffix != "" {
		p += "/" + suffix
	}

	return p
}

func (c *APIClient) mutate(ctx context.Context, method, endpoint string, payload interface{}) (*models.DeviceUpdate, error) {
	var reqBody io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	body, err := c.do(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, nil
	}

	var resp commandResponse

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrCommandFailed, resp.Error)
	}

	return resp.Device, nil
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s %s returned %s", ErrCommandFailed, method, endpoint, resp.Status)
	}

	return data, nil
}
