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
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSharedTransportMultiplexing(t *testing.T) {
	t.Parallel()
	reg, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app")
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	first, err := client.OpenSession(ctx)
	require.NoError(t, err)
	second, err := client.OpenSession(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, dialer.dialCount())
	require.Same(t, first.Conn(), second.Conn())
	require.NotEqual(t, first.ID(), second.ID())
}

func TestSharedTransportLinger(t *testing.T) {
	t.Parallel()
	reg, dialer, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app", WithConnectionLinger(30*time.Second))
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	first, err := client.OpenSession(ctx)
	require.NoError(t, err)
	second, err := client.OpenSession(ctx)
	require.NoError(t, err)
	conn := dialer.conn(t, 0)

	// Releasing every session leaves the shared transport open.
	first.Release()
	second.Release()
	require.False(t, conn.closed())

	// A session acquired just before the linger deadline cancels teardown.
	clock.Advance(29 * time.Second)
	require.False(t, conn.closed())
	third, err := client.OpenSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dialer.dialCount())
	require.Same(t, conn, dialer.conn(t, 0))

	clock.Advance(time.Hour)
	require.False(t, conn.closed())

	// With no session to save it, the transport closes once the full
	// linger period elapses after the last release.
	third.Release()
	clock.Advance(29 * time.Second)
	require.False(t, conn.closed())
	clock.Advance(time.Second)
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)

	// The pool entry is gone; the next session dials a fresh transport.
	fourth, err := client.OpenSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, dialer.dialCount())
	fourth.Release()
}

func TestSharedTransportLingerChurn(t *testing.T) {
	t.Parallel()
	reg, _, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app", WithConnectionLinger(30*time.Second))
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	// An expired timer's callback can lose the pool lock to a quick
	// re-acquire-and-release. The fresh linger window started by that
	// release must then run in full; the fired callback may not cut it
	// short. Loop to give the race a chance to line up either way.
	for range 20 {
		first, err := client.OpenSession(ctx)
		require.NoError(t, err)
		conn, ok := first.Conn().(*fakeConn)
		require.True(t, ok)
		first.Release()
		clock.Advance(30 * time.Second)

		second, err := client.OpenSession(ctx)
		require.NoError(t, err)
		reused := second.Conn() == first.Conn()
		second.Release()
		if reused {
			// The re-acquire beat the teardown callback to the lock, so
			// the transport just entered a fresh 30-second window.
			require.Never(t, conn.closed, 30*time.Millisecond, 3*time.Millisecond)
		}
	}
}

func TestLingerSampledFromLatestAcquisition(t *testing.T) {
	t.Parallel()
	reg, dialer, clock := newTestRegistry(t)
	ctx := context.Background()

	endpoint, err := url.Parse("https://sync.example.com")
	require.NoError(t, err)
	long := acquireRequest{
		appID:     "my-app",
		endpoint:  endpoint,
		multiplex: true,
		linger:    30 * time.Second,
	}
	short := long
	short.linger = 5 * time.Second

	// The timer armed at the last release uses the most recent sample,
	// not the duration the transport was opened with.
	first, err := reg.pool.acquire(ctx, long)
	require.NoError(t, err)
	second, err := reg.pool.acquire(ctx, short)
	require.NoError(t, err)
	first.Release()
	second.Release()
	conn := dialer.conn(t, 0)
	clock.Advance(4 * time.Second)
	require.False(t, conn.closed())
	clock.Advance(time.Second)
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)

	// A sample taken after a timer is armed never rewrites that timer in
	// place: it arrives via an acquisition, which first cancels the
	// pending teardown, and governs only the timer armed at the next
	// release.
	third, err := reg.pool.acquire(ctx, long)
	require.NoError(t, err)
	third.Release()
	fresh := dialer.conn(t, 1)
	clock.Advance(29 * time.Second)
	require.False(t, fresh.closed())
	fourth, err := reg.pool.acquire(ctx, short)
	require.NoError(t, err)
	fourth.Release()
	clock.Advance(5 * time.Second)
	require.Eventually(t, fresh.closed, time.Second, time.Millisecond)
}

func TestDedicatedTransports(t *testing.T) {
	t.Parallel()
	reg, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app", WithSessionMultiplexing(false))
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	first, err := client.OpenSession(ctx)
	require.NoError(t, err)
	second, err := client.OpenSession(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, dialer.dialCount())
	require.NotSame(t, first.Conn(), second.Conn())

	// Dedicated transports tear down immediately and independently.
	first.Release()
	require.True(t, dialer.conn(t, 0).closed())
	require.False(t, dialer.conn(t, 1).closed())
	second.Release()
	require.True(t, dialer.conn(t, 1).closed())
}

func TestDialFailureLeavesNoEntry(t *testing.T) {
	t.Parallel()
	reg, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app")
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	dialer.setDialErr(errors.New("connection refused"))
	_, err = client.OpenSession(ctx)
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.ErrorContains(t, err, "connection refused")

	// The failure is not remembered: the next acquisition dials again.
	dialer.setDialErr(nil)
	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, dialer.dialCount())
	sess.Release()
}

func TestConcurrentOpenSessionSingleDial(t *testing.T) {
	t.Parallel()
	reg, dialer, _ := newTestRegistry(t)
	ctx := context.Background()

	// Widen the race window so concurrent acquirers pile up on the
	// in-flight dial.
	dialer.dialHook = func() { time.Sleep(20 * time.Millisecond) }

	cfg, err := NewConfig("my-app")
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	const parallelism = 8
	sessions := make([]*Session, parallelism)
	var wg sync.WaitGroup
	for i := range parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := client.OpenSession(ctx)
			require.NoError(t, err)
			sessions[i] = sess
		}()
	}
	wg.Wait()

	require.Equal(t, 1, dialer.dialCount())
	for _, sess := range sessions[1:] {
		require.Same(t, sessions[0].Conn(), sess.Conn())
	}
}

func TestSessionReleaseIdempotent(t *testing.T) {
	t.Parallel()
	reg, dialer, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app")
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	first, err := client.OpenSession(ctx)
	require.NoError(t, err)
	second, err := client.OpenSession(ctx)
	require.NoError(t, err)

	// Releasing the same session twice must not drop the active count to
	// zero while another session is still open.
	first.Release()
	first.Release()
	clock.Advance(time.Hour)
	require.Never(t, dialer.conn(t, 0).closed, 50*time.Millisecond, 5*time.Millisecond)
	second.Release()
}

func TestClientCloseCancelsPendingLinger(t *testing.T) {
	t.Parallel()
	reg, dialer, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app", WithConnectionLinger(30*time.Second))
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	sess.Release()

	// Close while the linger timer is pending: the transport closes now,
	// exactly once, and the stale timer must not fire a second teardown.
	client.Close()
	conn := dialer.conn(t, 0)
	require.Equal(t, 1, conn.closeCount())
	clock.Advance(time.Hour)
	require.Never(t, func() bool { return conn.closeCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionAccessors(t *testing.T) {
	t.Parallel()
	reg, _, clock := newTestRegistry(t)
	ctx := context.Background()

	cfg, err := NewConfig("my-app")
	require.NoError(t, err)
	client, err := reg.GetOrCreate(cfg)
	require.NoError(t, err)

	sess, err := client.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Release()

	require.NotZero(t, sess.ID())
	require.Equal(t, "my-app", sess.AppID())
	require.Equal(t, clock.Now(), sess.AcquiredAt())
	require.NotNil(t, sess.Conn())
}
