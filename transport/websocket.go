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

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

//nolint:gochecknoglobals
var defaultNetDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

const defaultHandshakeTimeout = 10 * time.Second

// DialOption is an option used to customize a WebSocketDialer.
type DialOption interface {
	apply(*WebSocketDialer)
}

// WithTLSConfig adds custom TLS configuration to the dialer, used when the
// endpoint scheme is "https" or "wss". The given timeout is applied to the
// whole WebSocket handshake, TLS included; if zero, a default of 10 seconds
// is used.
func WithTLSConfig(config *tls.Config, handshakeTimeout time.Duration) DialOption {
	return dialOptionFunc(func(d *WebSocketDialer) {
		d.tlsConfig = config
		d.handshakeTimeout = handshakeTimeout
	})
}

// WithNetDialer configures the dialer to use the given function to establish
// the underlying network connection. If not specified, a default
// [net.Dialer] with a 30-second dial timeout and 30-second TCP keep-alive is
// used.
func WithNetDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) DialOption {
	return dialOptionFunc(func(d *WebSocketDialer) {
		d.netDial = dialFunc
	})
}

// WithSOCKS5Proxy routes the underlying network connection through the
// SOCKS5 proxy at addr ("host:port"). auth may be nil for an unauthenticated
// proxy.
func WithSOCKS5Proxy(addr string, auth *proxy.Auth) DialOption {
	return dialOptionFunc(func(d *WebSocketDialer) {
		d.proxyAddr = addr
		d.proxyAuth = auth
	})
}

type dialOptionFunc func(*WebSocketDialer)

func (f dialOptionFunc) apply(d *WebSocketDialer) {
	f(d)
}

// WebSocketDialer is the default Dialer. It speaks WebSocket to the
// gateway, mapping "http"/"ws" endpoints to clear-text connections and
// "https"/"wss" endpoints to TLS.
type WebSocketDialer struct {
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
	netDial          func(ctx context.Context, network, addr string) (net.Conn, error)
	proxyAddr        string
	proxyAuth        *proxy.Auth
}

// NewWebSocketDialer returns a WebSocket dialer with the given options.
func NewWebSocketDialer(options ...DialOption) *WebSocketDialer {
	dialer := &WebSocketDialer{}
	for _, opt := range options {
		opt.apply(dialer)
	}
	return dialer
}

// DialContext implements Dialer.
func (d *WebSocketDialer) DialContext(ctx context.Context, endpoint *url.URL, header http.Header) (Conn, error) {
	wsURL := *endpoint
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", wsURL.Scheme)
	}

	netDial := d.netDial
	if netDial == nil {
		netDial = defaultNetDialer.DialContext
	}
	if d.proxyAddr != "" {
		socksDialer, err := proxy.SOCKS5("tcp", d.proxyAddr, d.proxyAuth, netDialerFunc(netDial))
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", d.proxyAddr, err)
		}
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			netDial = contextDialer.DialContext
		} else {
			dial := socksDialer.Dial
			netDial = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dial(network, addr)
			}
		}
	}

	handshakeTimeout := d.handshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	wsDialer := &websocket.Dialer{
		NetDialContext:   netDial,
		TLSClientConfig:  d.tlsConfig,
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := wsDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (handshake status %s)", wsURL.Host, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL.Host, err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a *websocket.Conn to the Conn interface. Gorilla permits at
// most one concurrent writer, so writes are serialized here.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Attempt a clean close handshake; tear the socket down regardless.
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// netDialerFunc lets a context-aware dial function serve as the forward
// dialer for the SOCKS5 proxy, which accepts the context-free proxy.Dialer
// interface.
type netDialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (f netDialerFunc) Dial(network, addr string) (net.Conn, error) {
	return f(context.Background(), network, addr)
}

func (f netDialerFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}
