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
	"time"
)

// Message is the wire envelope for every inbound and outbound frame on the
// push channel.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Inbound message types recognized by the event router. Any other type is
// delivered to wildcard subscribers only.
const (
	MessageTypeDeviceUpdate       = "device_update"
	MessageTypeDeviceConnected    = "device_connected"
	MessageTypeDeviceDisconnected = "device_disconnected"
	MessageTypeCommandStatus      = "command_status"
	MessageTypeSystemAlert        = "system_alert"
	MessageTypeAIInsight          = "ai_insight"
)

// Outbound message types. execute_command exists in the server's wire
// vocabulary but commands are issued over REST; the constant documents the
// frame without a send path.
const (
	MessageTypePing           = "ping"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypeExecuteCommand = "execute_command"
)

// Wildcard matches every message type in the event router.
const Wildcard = "*"

// DeviceEventPayload is the data object carried by device_* messages.
// The partial update is inlined next to the device id.
type DeviceEventPayload struct {
	DeviceID string `json:"device_id"`
	DeviceUpdate
}

// CommandStatusPayload is the data object carried by command_status
// messages. A known correlation id confirms the pending command early,
// ahead of the HTTP response.
type CommandStatusPayload struct {
	CorrelationID string `json:"correlation_id"`
	DeviceID      string `json:"device_id"`
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
}

// SubscribePayload is the data object for subscribe/unsubscribe frames.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// NewMessage builds an envelope with the payload marshaled into Data and
// the timestamp set to now.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}

		msg.Data = data
	}

	return msg, nil
}
