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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"string form", `"30s"`, 30 * time.Second, false},
		{"compound string", `"1m30s"`, 90 * time.Second, false},
		{"nanosecond number", `3000000000`, 3 * time.Second, false},
		{"bad string", `"soon"`, 0, true},
		{"bad type", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	in := Duration(90 * time.Second)

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var out Duration
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestServiceConfigValidate(t *testing.T) {
	cfg := ServiceConfig{}
	require.Error(t, cfg.Validate())

	cfg.Transport.URL = "wss://mdm.example.com/api/ws"
	require.Error(t, cfg.Validate())

	cfg.API.BaseURL = "https://mdm.example.com"
	require.NoError(t, cfg.Validate())
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeSubscribe, SubscribePayload{Topic: "devices"})
	require.NoError(t, err)

	assert.Equal(t, MessageTypeSubscribe, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var payload SubscribePayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "devices", payload.Topic)
}

func TestNewMessageNilPayload(t *testing.T) {
	msg, err := NewMessage(MessageTypePing, nil)
	require.NoError(t, err)

	assert.Equal(t, MessageTypePing, msg.Type)
	assert.Nil(t, msg.Data)
}
