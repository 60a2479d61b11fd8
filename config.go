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
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the gateway endpoint used when no WithBaseURL
	// option is provided.
	DefaultBaseURL = "https://services.baaskit.io"

	// DefaultLingerTimeout is how long a shared transport stays open after
	// its last session releases, when no WithConnectionLinger option is
	// provided.
	DefaultLingerTimeout = 30 * time.Second

	// EncryptionKeySize is the exact length, in bytes, required of a key
	// passed to WithEncryptionKey.
	EncryptionKeySize = 64
)

// ConfigOption is an option used to customize a client configuration.
type ConfigOption interface {
	apply(*configOptions)
}

// WithBaseURL sets the base endpoint URL of the gateway. The scheme must be
// "http", "https", "ws", or "wss". If not specified, DefaultBaseURL is used.
//
// The base URL is the only configuration field that can be changed after a
// client has been cached: a later GetOrCreate for the same identifier whose
// configuration differs only in the base URL updates the cached client's
// endpoint in place.
func WithBaseURL(rawURL string) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.baseURL = rawURL
	})
}

// WithSessionMultiplexing controls whether sessions for this application
// share a single transport. Multiplexing is enabled by default. When
// disabled, every session opens a dedicated transport that is torn down as
// soon as the session releases.
func WithSessionMultiplexing(enabled bool) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.multiplexDisabled = !enabled
	})
}

// WithConnectionLinger sets how long a shared transport stays open after its
// last session releases. A new session acquired within that window reuses
// the transport and cancels the pending teardown. The duration must be
// non-negative; zero tears the transport down as soon as the last session
// releases. If not specified, DefaultLingerTimeout is used.
//
// Changing the linger duration has no effect on a teardown that is already
// pending; it applies from the next time the session count reaches zero.
func WithConnectionLinger(duration time.Duration) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.linger = duration
		opts.lingerSet = true
	})
}

// WithAuthorizationHeaderName overrides the name of the request header under
// which the authentication layer sends credentials to the gateway. If not
// specified, the standard "Authorization" header is used. The connection
// manager itself does not attach credentials; it only carries the name for
// the layers that do.
func WithAuthorizationHeaderName(name string) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.authHeaderName = name
	})
}

// WithCustomHeaders sets additional headers sent with every request to the
// gateway, including the transport handshake. Keys must be non-empty; values
// may be empty. The map is copied.
func WithCustomHeaders(headers map[string]string) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.customHeaders = maps.Clone(headers)
	})
}

// WithEncryptionKey sets the key used to encrypt client state at rest. The
// key must be exactly EncryptionKeySize bytes. The slice is copied. The
// connection manager does not use the key itself; it carries it for the
// storage layer.
func WithEncryptionKey(key []byte) ConfigOption {
	return configOptionFunc(func(opts *configOptions) {
		opts.encryptionKey = bytes.Clone(key)
	})
}

type configOptionFunc func(*configOptions)

func (f configOptionFunc) apply(opts *configOptions) {
	f(opts)
}

type configOptions struct {
	baseURL           string
	multiplexDisabled bool
	linger            time.Duration
	lingerSet         bool
	authHeaderName    string
	customHeaders     map[string]string
	encryptionKey     []byte
}

// Config is an immutable snapshot of the connection-relevant settings for
// one application. It is captured when a client is first constructed; after
// that, every field except the base URL is frozen for as long as the client
// stays cached (see Registry.GetOrCreate).
//
// The zero value is not a valid Config; use NewConfig.
type Config struct {
	appID          string
	baseURL        *url.URL
	multiplex      bool
	linger         time.Duration
	authHeaderName string
	customHeaders  map[string]string
	encryptionKey  []byte
}

// NewConfig validates the given options and returns a configuration
// snapshot for the given application identifier. It fails with an error
// wrapping ErrInvalidConfig if the identifier is empty, the base URL does
// not parse or has an unsupported scheme, the linger duration is negative,
// any custom header key is empty, or the encryption key is present but not
// EncryptionKeySize bytes. Validation happens here, before any network
// activity.
func NewConfig(appID string, options ...ConfigOption) (Config, error) {
	var opts configOptions
	for _, opt := range options {
		opt.apply(&opts)
	}

	if appID == "" {
		return Config{}, fmt.Errorf("%w: app identifier must not be empty", ErrInvalidConfig)
	}

	rawURL := opts.baseURL
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	baseURL, err := parseBaseURL(rawURL)
	if err != nil {
		return Config{}, err
	}

	linger := DefaultLingerTimeout
	if opts.lingerSet {
		if opts.linger < 0 {
			return Config{}, fmt.Errorf("%w: connection linger must not be negative (got %v)", ErrInvalidConfig, opts.linger)
		}
		linger = opts.linger
	}

	for key := range opts.customHeaders {
		if key == "" {
			return Config{}, fmt.Errorf("%w: custom header keys must not be empty", ErrInvalidConfig)
		}
	}

	if opts.encryptionKey != nil && len(opts.encryptionKey) != EncryptionKeySize {
		return Config{}, fmt.Errorf("%w: encryption key must be exactly %d bytes (got %d)", ErrInvalidConfig, EncryptionKeySize, len(opts.encryptionKey))
	}

	return Config{
		appID:          appID,
		baseURL:        baseURL,
		multiplex:      !opts.multiplexDisabled,
		linger:         linger,
		authHeaderName: opts.authHeaderName,
		customHeaders:  opts.customHeaders,
		encryptionKey:  opts.encryptionKey,
	}, nil
}

func parseBaseURL(rawURL string) (*url.URL, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base URL %q does not parse: %v", ErrInvalidConfig, rawURL, err)
	}
	switch baseURL.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported base URL scheme %q", ErrInvalidConfig, baseURL.Scheme)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q has no host", ErrInvalidConfig, rawURL)
	}
	return baseURL, nil
}

// AppID returns the application identifier.
func (c Config) AppID() string {
	return c.appID
}

// BaseURL returns a copy of the base endpoint URL captured by this snapshot.
// Note that the endpoint a cached client actually uses can diverge from its
// original snapshot; see Client.BaseURL.
func (c Config) BaseURL() *url.URL {
	clone := *c.baseURL
	return &clone
}

// Multiplexing reports whether sessions share a single transport.
func (c Config) Multiplexing() bool {
	return c.multiplex
}

// LingerTimeout returns how long a shared transport stays open after its
// last session releases.
func (c Config) LingerTimeout() time.Duration {
	return c.linger
}

// AuthorizationHeaderName returns the header name override for credentials,
// or the empty string if the default should be used.
func (c Config) AuthorizationHeaderName() string {
	return c.authHeaderName
}

// CustomHeaders returns a copy of the custom header map.
func (c Config) CustomHeaders() map[string]string {
	return maps.Clone(c.customHeaders)
}

// EncryptionKey returns a copy of the encryption key, or nil if none was
// configured.
func (c Config) EncryptionKey() []byte {
	return bytes.Clone(c.encryptionKey)
}

// dialHeader builds the headers attached to a transport handshake.
func (c Config) dialHeader() http.Header {
	header := make(http.Header, len(c.customHeaders))
	for key, value := range c.customHeaders {
		header.Set(key, value)
	}
	return header
}

// equivalentExceptBaseURL reports whether other differs from c in no field
// other than the base URL. The registry uses this to decide whether a cache
// hit may update the cached client's endpoint in place.
func (c Config) equivalentExceptBaseURL(other Config) bool {
	return c.appID == other.appID &&
		c.multiplex == other.multiplex &&
		c.linger == other.linger &&
		c.authHeaderName == other.authHeaderName &&
		maps.Equal(c.customHeaders, other.customHeaders) &&
		bytes.Equal(c.encryptionKey, other.encryptionKey)
}
