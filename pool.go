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
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/baaskit/connect/internal"
	"github.com/baaskit/connect/transport"
	"golang.org/x/sync/errgroup"
)

// connPool multiplexes sessions over shared transports, one per application
// identifier, and owns their lifecycle. All pool state is guarded by mu;
// dialing and closing transports always happens outside the lock.
type connPool struct {
	dialer transport.Dialer
	logger *slog.Logger
	clock  internal.Clock

	mu sync.Mutex
	// +checklocks:mu
	shared map[string]*sharedEntry
	// +checklocks:mu
	dedicated map[string]map[*Session]struct{}
	// +checklocks:mu
	closed bool
}

// sharedEntry is the pool's record of one shared transport. The entry is
// inserted before the dial starts; ready is closed once conn and dialErr are
// settled, so concurrent acquirers wait on one in-flight dial instead of
// opening duplicate transports.
type sharedEntry struct {
	appID string
	ready chan struct{}

	// All remaining fields are guarded by connPool.mu.
	conn     transport.Conn
	dialErr  error
	sessions map[*Session]struct{}
	// linger is sampled from the most recent acquisition; a change never
	// affects a timer that is already armed.
	linger      time.Duration
	lingerTimer internal.Timer
	// lingerGen increments every time a timer is armed. A callback whose
	// timer fired but lost the pool lock to an acquire/release churn
	// carries a stale generation and must not tear down.
	lingerGen uint64
}

type acquireRequest struct {
	appID     string
	endpoint  *url.URL
	header    http.Header
	multiplex bool
	linger    time.Duration
	owner     *Client
}

func newConnPool(dialer transport.Dialer, logger *slog.Logger, clock internal.Clock) *connPool {
	return &connPool{
		dialer:    dialer,
		logger:    logger,
		clock:     clock,
		shared:    map[string]*sharedEntry{},
		dedicated: map[string]map[*Session]struct{}{},
	}
}

func (p *connPool) acquire(ctx context.Context, req acquireRequest) (*Session, error) {
	if !req.multiplex {
		return p.acquireDedicated(ctx, req)
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		entry, ok := p.shared[req.appID]
		if !ok {
			entry = &sharedEntry{
				appID:    req.appID,
				ready:    make(chan struct{}),
				sessions: map[*Session]struct{}{},
				linger:   req.linger,
			}
			p.shared[req.appID] = entry
			p.mu.Unlock()
			return p.dialShared(ctx, entry, req)
		}
		if entry.conn != nil {
			sess := p.attachLocked(entry, req)
			p.mu.Unlock()
			return sess, nil
		}
		// Another acquisition is mid-dial; wait for it to settle.
		ready := entry.ready
		p.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		p.mu.Lock()
		if entry.dialErr != nil {
			err := entry.dialErr
			p.mu.Unlock()
			return nil, err
		}
		if p.shared[req.appID] == entry && entry.conn != nil {
			sess := p.attachLocked(entry, req)
			p.mu.Unlock()
			return sess, nil
		}
		// The entry was torn down while we waited; start over.
		p.mu.Unlock()
	}
}

// attachLocked registers a new session on an established entry, cancelling
// any pending linger teardown.
//
// +checklocks:p.mu
func (p *connPool) attachLocked(entry *sharedEntry, req acquireRequest) *Session {
	if entry.lingerTimer != nil {
		entry.lingerTimer.Stop()
		entry.lingerTimer = nil
	}
	entry.linger = req.linger
	sess := newSession(req.owner, p, req.appID, entry.conn, false)
	entry.sessions[sess] = struct{}{}
	return sess
}

// dialShared opens the transport for a freshly inserted entry. The caller
// must have already published the entry; no lock is held while dialing.
func (p *connPool) dialShared(ctx context.Context, entry *sharedEntry, req acquireRequest) (*Session, error) {
	conn, err := p.dialer.DialContext(ctx, req.endpoint, req.header)

	p.mu.Lock()
	if err != nil {
		dialErr := fmt.Errorf("%w: dial %s: %w", ErrTransportUnavailable, req.endpoint.Host, err)
		entry.dialErr = dialErr
		if p.shared[req.appID] == entry {
			delete(p.shared, req.appID)
		}
		close(entry.ready)
		p.mu.Unlock()
		return nil, dialErr
	}
	if p.closed || p.shared[req.appID] != entry {
		// The pool or the app was closed while dialing. Waiters get the
		// closure error; the transport we just opened is discarded.
		dialErr := ErrClientClosed
		if p.closed {
			dialErr = ErrRegistryClosed
		}
		entry.dialErr = dialErr
		close(entry.ready)
		p.mu.Unlock()
		_ = conn.Close()
		return nil, dialErr
	}
	entry.conn = conn
	close(entry.ready)
	sess := newSession(req.owner, p, req.appID, conn, false)
	entry.sessions[sess] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("opened shared transport",
		"app_id", req.appID, "endpoint", req.endpoint.Host)
	return sess, nil
}

func (p *connPool) acquireDedicated(ctx context.Context, req acquireRequest) (*Session, error) {
	conn, err := p.dialer.DialContext(ctx, req.endpoint, req.header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransportUnavailable, req.endpoint.Host, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrRegistryClosed
	}
	sess := newSession(req.owner, p, req.appID, conn, true)
	set := p.dedicated[req.appID]
	if set == nil {
		set = map[*Session]struct{}{}
		p.dedicated[req.appID] = set
	}
	set[sess] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("opened dedicated transport",
		"app_id", req.appID, "endpoint", req.endpoint.Host)
	return sess, nil
}

// release returns a session's slot. Dedicated transports close immediately;
// a shared transport whose last session released gets a linger timer instead
// of closing, so a quick follow-up acquisition can reuse it.
func (p *connPool) release(sess *Session) {
	if sess.dedicated {
		p.mu.Lock()
		if set, ok := p.dedicated[sess.appID]; ok {
			delete(set, sess)
			if len(set) == 0 {
				delete(p.dedicated, sess.appID)
			}
		}
		p.mu.Unlock()
		_ = sess.conn.Close()
		return
	}

	p.mu.Lock()
	entry, ok := p.shared[sess.appID]
	if !ok {
		// Already torn down by closeApp or closeAll.
		p.mu.Unlock()
		return
	}
	if _, held := entry.sessions[sess]; !held {
		p.mu.Unlock()
		return
	}
	delete(entry.sessions, sess)
	if len(entry.sessions) == 0 && entry.conn != nil {
		entry.lingerGen++
		gen := entry.lingerGen
		entry.lingerTimer = p.clock.AfterFunc(entry.linger, func() {
			p.reapIdle(entry, gen)
		})
	}
	p.mu.Unlock()
}

// reapIdle is the linger timer callback. It re-checks under the lock before
// tearing down: a session acquired between the timer firing and this
// callback running keeps the transport alive, and a generation mismatch
// means the idle period this timer measured is over — the transport has
// since been re-acquired and re-released, and the fresh timer armed by that
// release owns the teardown decision.
func (p *connPool) reapIdle(entry *sharedEntry, gen uint64) {
	p.mu.Lock()
	if p.shared[entry.appID] != entry || entry.lingerGen != gen || len(entry.sessions) != 0 {
		p.mu.Unlock()
		return
	}
	delete(p.shared, entry.appID)
	entry.lingerTimer = nil
	conn := entry.conn
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		p.logger.Debug("closed idle transport", "app_id", entry.appID)
	}
}

// closeApp tears down all pool state for one application: the shared entry,
// its pending linger timer, and any dedicated transports whose sessions were
// never released.
func (p *connPool) closeApp(appID string) {
	p.mu.Lock()
	conns := p.detachAppLocked(appID)
	p.mu.Unlock()
	p.closeConns(conns)
}

// closeAll shuts the pool down entirely. Used by Registry.Close.
func (p *connPool) closeAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var conns []transport.Conn
	for appID := range p.shared {
		conns = append(conns, p.detachAppLocked(appID)...)
	}
	for appID := range p.dedicated {
		conns = append(conns, p.detachAppLocked(appID)...)
	}
	p.mu.Unlock()
	p.closeConns(conns)
}

// detachAppLocked removes an app's entries from the pool and returns the
// transports to close, which the caller must do without holding the lock.
//
// +checklocks:p.mu
func (p *connPool) detachAppLocked(appID string) []transport.Conn {
	var conns []transport.Conn
	if entry, ok := p.shared[appID]; ok {
		if entry.lingerTimer != nil {
			entry.lingerTimer.Stop()
			entry.lingerTimer = nil
		}
		if entry.conn != nil {
			conns = append(conns, entry.conn)
		}
		delete(p.shared, appID)
	}
	for sess := range p.dedicated[appID] {
		if sess.released.CompareAndSwap(false, true) {
			conns = append(conns, sess.conn)
		}
	}
	delete(p.dedicated, appID)
	return conns
}

func (p *connPool) closeConns(conns []transport.Conn) {
	if len(conns) == 0 {
		return
	}
	var group errgroup.Group
	for _, conn := range conns {
		group.Go(func() error {
			return conn.Close()
		})
	}
	_ = group.Wait()
}
