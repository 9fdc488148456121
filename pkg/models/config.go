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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration wraps time.Duration so config files can write either a string
// ("30s") or a numeric nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// TransportConfig configures the push channel.
type TransportConfig struct {
	URL                  string   `json:"url"`
	AuthToken            string   `json:"auth_token,omitempty"`
	HeartbeatInterval    Duration `json:"heartbeat_interval,omitempty"`
	ReconnectInterval    Duration `json:"reconnect_interval,omitempty"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts,omitempty"`
}

// APIConfig configures the REST collaborator client.
type APIConfig struct {
	BaseURL        string   `json:"base_url"`
	AuthToken      string   `json:"auth_token,omitempty"`
	RequestTimeout Duration `json:"request_timeout,omitempty"`
}

// NATSConfig configures the optional device-change publisher. Publishing is
// disabled when URL is empty.
type NATSConfig struct {
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level      string `json:"level,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
	Output     string `json:"output,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
}

// ServiceConfig is the top-level fleetsync configuration.
type ServiceConfig struct {
	Transport       TransportConfig `json:"transport"`
	API             APIConfig       `json:"api"`
	NATS            NATSConfig      `json:"nats,omitempty"`
	Logging         LoggingConfig   `json:"logging,omitempty"`
	RefreshInterval Duration        `json:"refresh_interval,omitempty"`
	PageSize        int             `json:"page_size,omitempty"`
	Topics          []string        `json:"topics,omitempty"`
}

var (
	errTransportURLRequired = errors.New("transport.url is required")
	errAPIBaseURLRequired   = errors.New("api.base_url is required")
)

// Validate implements config.Validator.
func (c *ServiceConfig) Validate() error {
	if c.Transport.URL == "" {
		return errTransportURLRequired
	}

	if c.API.BaseURL == "" {
		return errAPIBaseURLRequired
	}

	return nil
}
