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

package transport

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a WebSocket connection the channel needs.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer establishes a Conn to the given URL.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer is the production Dialer backed by gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer using gorilla's defaults.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{dialer: websocket.DefaultDialer}
}

// DialContext implements Dialer.
func (d *WebSocketDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %s): %w", url, resp.Status, err)
		}

		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return conn, nil
}
