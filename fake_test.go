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
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/baaskit/connect/internal/clocktest"
	"github.com/baaskit/connect/transport"
	"github.com/stretchr/testify/require"
)

// fakeDialer records every dial and hands out fakeConns.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	dialHook func() // runs during the dial, outside any pool lock
	conns    []*fakeConn
}

var _ transport.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) DialContext(_ context.Context, endpoint *url.URL, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	hook := d.dialHook
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	conn := &fakeConn{endpoint: endpoint.String(), header: header.Clone()}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(t, len(d.conns), i)
	return d.conns[i]
}

type fakeConn struct {
	endpoint string
	header   http.Header
	closes   atomic.Int32
}

var _ transport.Conn = (*fakeConn)(nil)

func (c *fakeConn) Send([]byte) error { return nil }

func (c *fakeConn) Receive() ([]byte, error) { return nil, io.EOF }

func (c *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) closed() bool { return c.closes.Load() > 0 }

func (c *fakeConn) closeCount() int { return int(c.closes.Load()) }

// newTestRegistry builds a registry on a fake dialer and a fake clock, with
// logging discarded. The registry is closed when the test finishes.
func newTestRegistry(t *testing.T) (*Registry, *fakeDialer, clocktest.FakeClock) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := clocktest.NewFakeClock()
	reg := NewRegistry(
		WithDialer(dialer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	reg.SetClock(clock)
	t.Cleanup(reg.Close)
	return reg, dialer, clock
}
