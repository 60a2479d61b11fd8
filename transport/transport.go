// Copyright 2024-2025 Baaskit Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport defines the wire transport used to reach the gateway
// and provides the default WebSocket implementation. The connection pool in
// the parent package dials transports through the Dialer interface and never
// depends on a concrete implementation, so tests and alternative protocols
// can substitute their own.
package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
)

// Dialer opens transports to a gateway endpoint.
type Dialer interface {
	// DialContext establishes a transport to the given endpoint, sending
	// the given headers with the handshake. The endpoint is the client's
	// configured base URL; implementations decide how to map its scheme
	// onto their protocol. Cancelling the context aborts the dial.
	DialContext(ctx context.Context, endpoint *url.URL, header http.Header) (Conn, error)
}

// Conn is an established, message-oriented transport. A Conn may be shared
// by multiple sessions; implementations must serialize concurrent Send
// calls. Close must be idempotent.
type Conn interface {
	// Send writes one binary message.
	Send(data []byte) error
	// Receive reads the next binary message, blocking until one arrives,
	// the peer closes, or the transport fails.
	Receive() ([]byte, error)
	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
	// Close tears the transport down. Subsequent calls are no-ops.
	Close() error
}
