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

// Package connect manages client connections to a backend service gateway.
// It is the connectivity core of a client SDK: higher layers (authentication,
// data sync, function invocation) obtain sessions from this package instead
// of dialing the gateway themselves.
//
// The entry point is a [Registry], which caches one [Client] per application
// identifier. Requesting a client for an identifier that is already cached
// returns the cached instance; the configuration supplied on the first
// request wins, and later requests can only change the base endpoint URL.
// Creating a client performs no network I/O.
//
//	reg := connect.NewRegistry()
//	defer reg.Close()
//
//	cfg, err := connect.NewConfig("my-app",
//	    connect.WithBaseURL("https://services.example.com"),
//	    connect.WithConnectionLinger(30*time.Second),
//	)
//	if err != nil {
//	    // configuration is invalid; fix the input
//	}
//	client, err := reg.GetOrCreate(cfg)
//
// Transports open lazily: the first call to [Client.OpenSession] dials the
// gateway. With session multiplexing enabled (the default), every session
// for an identifier shares one transport, and the transport stays open for a
// configurable linger period after the last session releases, to absorb
// rapid session churn. With multiplexing disabled, each session gets a
// dedicated transport that is torn down as soon as the session releases.
//
// Closing a client releases its sessions, tears down its transports, and
// evicts it from the registry; the next GetOrCreate for that identifier
// builds a fresh client from whatever configuration is supplied then. Close
// is idempotent. Clients must be closed explicitly: an unclosed client keeps
// its transports until the registry itself is closed.
//
// The wire transport is pluggable via [WithDialer] and defaults to the
// WebSocket implementation in the [github.com/baaskit/connect/transport]
// package.
package connect
