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
	"sync/atomic"
	"time"

	"github.com/baaskit/connect/transport"
	"github.com/google/uuid"
)

// Session is one logical synchronization session's slot on a transport.
// Consumers read and write the sync protocol through Conn and must call
// Release exactly once when done; Release is nevertheless safe to call more
// than once.
type Session struct {
	id         uuid.UUID
	appID      string
	owner      *Client
	pool       *connPool
	conn       transport.Conn
	dedicated  bool
	acquiredAt time.Time

	released atomic.Bool
}

func newSession(owner *Client, pool *connPool, appID string, conn transport.Conn, dedicated bool) *Session {
	return &Session{
		id:         uuid.New(),
		appID:      appID,
		owner:      owner,
		pool:       pool,
		conn:       conn,
		dedicated:  dedicated,
		acquiredAt: pool.clock.Now(),
	}
}

// ID returns the session's unique identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// AppID returns the application identifier this session belongs to.
func (s *Session) AppID() string {
	return s.appID
}

// AcquiredAt returns when the session was acquired.
func (s *Session) AcquiredAt() time.Time {
	return s.acquiredAt
}

// Conn returns the transport this session is attached to. With multiplexing
// enabled the transport is shared with other sessions of the same
// application; it must not be closed by the caller.
func (s *Session) Conn() transport.Conn {
	return s.conn
}

// Release returns the session's slot to the pool. For a dedicated session
// this closes the transport immediately. For a multiplexed session it
// decrements the shared transport's active count; when the count reaches
// zero a linger timer is armed and the transport closes only if no new
// session arrives before it fires. Release is idempotent.
func (s *Session) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.owner != nil {
		s.owner.forgetSession(s)
	}
	s.pool.release(s)
}
