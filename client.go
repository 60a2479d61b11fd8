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

package connect

import (
	"context"
	"net/url"
	"sync"
)

// Client is the cached per-application entry point through which sessions
// to the gateway are opened. Obtain one from Registry.GetOrCreate; within a
// process there is never more than one live Client per application
// identifier.
//
// Constructing a client performs no network I/O. Transports open lazily on
// the first OpenSession call.
type Client struct {
	registry *Registry
	pool     *connPool
	cfg      Config

	mu       sync.Mutex
	baseURL  *url.URL
	sessions map[*Session]struct{}
	closed   bool
}

func newClient(registry *Registry, cfg Config) *Client {
	return &Client{
		registry: registry,
		pool:     registry.pool,
		cfg:      cfg,
		baseURL:  cfg.baseURL,
		sessions: map[*Session]struct{}{},
	}
}

// AppID returns the application identifier this client was created for.
func (c *Client) AppID() string {
	return c.cfg.appID
}

// Config returns the configuration snapshot this client was constructed
// from. The snapshot does not reflect base URL updates applied after
// construction; use BaseURL for the active endpoint.
func (c *Client) Config() Config {
	return c.cfg
}

// BaseURL returns a copy of the endpoint the client currently dials.
func (c *Client) BaseURL() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *c.baseURL
	return &clone
}

// maybeUpdateBaseURL applies cfg's base URL if cfg differs from the cached
// snapshot in no other field. It reports whether an update was applied.
func (c *Client) maybeUpdateBaseURL(cfg Config) bool {
	if !c.cfg.equivalentExceptBaseURL(cfg) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.baseURL.String() == cfg.baseURL.String() {
		return false
	}
	c.baseURL = cfg.baseURL
	return true
}

// OpenSession acquires a session slot on a transport to the gateway. With
// multiplexing enabled this reuses (or lazily opens) the application's
// shared transport; otherwise it opens a dedicated one. The returned session
// must be released when the caller is done with it.
//
// It fails with an error wrapping ErrTransportUnavailable if a transport
// cannot be established, and with ErrClientClosed after Close. A transport
// failure does not poison the client: the next call dials from scratch.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	endpoint := c.baseURL
	c.mu.Unlock()

	sess, err := c.pool.acquire(ctx, acquireRequest{
		appID:     c.cfg.appID,
		endpoint:  endpoint,
		header:    c.cfg.dialHeader(),
		multiplex: c.cfg.multiplex,
		linger:    c.cfg.linger,
		owner:     c,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		// Lost a race with a concurrent Close; don't leak the slot.
		c.mu.Unlock()
		sess.Release()
		return nil, ErrClientClosed
	}
	c.sessions[sess] = struct{}{}
	c.mu.Unlock()
	return sess, nil
}

func (c *Client) forgetSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sess)
}

// Close releases every session opened through this client, tears down the
// application's pooled transports (cancelling any pending linger teardown),
// and evicts the client from its registry. Operations on the client fail
// with ErrClientClosed afterwards. Close is idempotent and never errors.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.sessions = nil
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.Release()
	}
	c.pool.closeApp(c.cfg.appID)
	c.registry.remove(c.cfg.appID, c)
}
