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
	"fmt"
	"log/slog"
	"sync"

	"github.com/baaskit/connect/internal"
	"github.com/baaskit/connect/transport"
	"golang.org/x/sync/errgroup"
)

// RegistryOption is an option used to customize a Registry.
type RegistryOption interface {
	apply(*registryOptions)
}

// WithDialer configures the transport dialer used for all clients of this
// registry. If not specified, a WebSocket dialer with default settings is
// used (see [transport.NewWebSocketDialer]).
func WithDialer(dialer transport.Dialer) RegistryOption {
	return registryOptionFunc(func(opts *registryOptions) {
		opts.dialer = dialer
	})
}

// WithLogger configures the logger used by the registry, its clients, and
// the connection pool. If not specified, slog.Default() is used.
func WithLogger(logger *slog.Logger) RegistryOption {
	return registryOptionFunc(func(opts *registryOptions) {
		opts.logger = logger
	})
}

type registryOptionFunc func(*registryOptions)

func (f registryOptionFunc) apply(opts *registryOptions) {
	f(opts)
}

type registryOptions struct {
	dialer transport.Dialer
	logger *slog.Logger
}

// Registry caches one live Client per application identifier and owns the
// connection pool those clients share. There is deliberately no package-level
// registry: construct one at process start and inject it where clients are
// requested.
type Registry struct {
	logger *slog.Logger
	pool   *connPool

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewRegistry returns a new, empty registry.
func NewRegistry(options ...RegistryOption) *Registry {
	var opts registryOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	if opts.dialer == nil {
		opts.dialer = transport.NewWebSocketDialer()
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	return &Registry{
		logger:  opts.logger,
		pool:    newConnPool(opts.dialer, opts.logger, internal.NewRealClock()),
		clients: map[string]*Client{},
	}
}

// GetOrCreate returns the cached client for cfg's application identifier,
// constructing and caching one from cfg if none exists. On a cache hit the
// supplied configuration is ignored, with one exception: if it differs from
// the cached snapshot only in the base URL, the cached client's endpoint is
// updated in place. Closing the cached client is the only other way to make
// a new configuration take effect.
//
// It fails with an error wrapping ErrInvalidConfig if cfg is the zero value,
// and with ErrRegistryClosed after Close.
func (r *Registry) GetOrCreate(cfg Config) (*Client, error) {
	if cfg.appID == "" {
		// Catches Config{} zero values; NewConfig rejects everything else.
		return nil, fmt.Errorf("%w: configuration must be built with NewConfig", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if client, ok := r.clients[cfg.appID]; ok {
		if client.maybeUpdateBaseURL(cfg) {
			r.logger.Debug("updated app client base URL",
				"app_id", cfg.appID, "base_url", cfg.baseURL.String())
		}
		return client, nil
	}

	client := newClient(r, cfg)
	r.clients[cfg.appID] = client
	r.logger.Debug("created app client",
		"app_id", cfg.appID,
		"base_url", cfg.baseURL.String(),
		"multiplexing", cfg.multiplex)
	return client, nil
}

// remove evicts the given client, but only if it is still the cached
// instance for its identifier. A concurrent close-then-recreate may have
// already replaced it.
func (r *Registry) remove(appID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[appID] == client {
		delete(r.clients, appID)
	}
}

// Close closes every cached client and shuts down the connection pool,
// cancelling any pending linger teardowns. The registry cannot be used
// afterwards. Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	alreadyClosed := r.closed
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.clients = map[string]*Client{}
	r.mu.Unlock()
	if alreadyClosed {
		return
	}

	var group errgroup.Group
	for _, client := range clients {
		group.Go(func() error {
			client.Close()
			return nil
		})
	}
	_ = group.Wait()
	r.pool.closeAll()
}
