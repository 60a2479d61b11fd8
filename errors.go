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

import "errors"

var (
	// ErrInvalidConfig indicates that a configuration failed validation. It
	// is not retryable: the caller must fix the configuration.
	ErrInvalidConfig = errors.New("invalid client configuration")

	// ErrTransportUnavailable indicates that a transport to the gateway
	// could not be established. The caller may retry; the pool does not
	// retry on its own and does not remember the failure.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrClientClosed indicates an operation on a closed Client.
	ErrClientClosed = errors.New("client is closed")

	// ErrRegistryClosed indicates an operation on a closed Registry.
	ErrRegistryClosed = errors.New("registry is closed")
)
