// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package reactor implements a One-Loop-Per-Thread TCP server framework:
// a base loop runs the Acceptor and owns the live-connection index, and a
// pool of worker loops each owns a disjoint set of Connections for their
// entire lifetime. Grounded on the original C++ TcpServer/Acceptor/
// Connection/EventLoop stack (source/server.hpp), restructured around
// Go's goroutines-plus-channels idiom the way the retrieved gnet forks
// structure their own reactors, and carrying the teacher repo's ambient
// stack (zap/lumberjack logging, functional options, go.uber.org/atomic
// counters, go.uber.org/multierr aggregation) throughout.
package reactor

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/internal/loop"
	"github.com/govoltron/reactor/internal/sock"
)

// Server is a TCP reactor server: one base loop for accepting connections
// plus a round-robin pool of worker loops, each driving its own set of
// Connections.
type Server struct {
	port uint16
	opts *Options
	log  *zap.Logger

	baseLoop *loop.EventLoop
	pool     *loop.Pool
	acceptor *acceptor

	nextConnID atomic.Uint64

	mu   sync.Mutex
	live map[uint64]*Conn

	onConnected ConnectedFunc
	onMessage   MessageFunc
	onClosed    ClosedFunc
	onAnyEvent  AnyEventFunc
}

// New constructs a Server bound to port, applying opts in order. The
// server does not start accepting until Start is called.
func New(port uint16, opts ...Option) (*Server, error) {
	sock.IgnoreSIGPIPE()
	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}

	log, err := newLogger(o)
	if err != nil {
		return nil, err
	}

	baseLoop, err := loop.New(log)
	if err != nil {
		return nil, newError(LoopFatal, "new base loop", err)
	}

	a, err := newAcceptor(baseLoop, port, o.BindAddr, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		port:     port,
		opts:     o,
		log:      log,
		baseLoop: baseLoop,
		pool:     loop.NewPool(baseLoop, log),
		acceptor: a,
		live:     make(map[uint64]*Conn),
	}
	s.pool.SetThreadNum(o.ThreadNum)
	s.pool.Create()
	a.setNewConnectionCallback(s.newConnection)
	a.listen()
	return s, nil
}

// SetConnectedCallback sets the hook invoked when a connection finishes
// its handshake (CONNECTING -> CONNECTED).
func (s *Server) SetConnectedCallback(cb ConnectedFunc) { s.onConnected = cb }

// SetMessageCallback sets the hook invoked whenever a connection's
// in-buffer has unread bytes.
func (s *Server) SetMessageCallback(cb MessageFunc) { s.onMessage = cb }

// SetClosedCallback sets the hook invoked once a connection reaches
// DISCONNECTED, before the server removes it from the live index.
func (s *Server) SetClosedCallback(cb ClosedFunc) { s.onClosed = cb }

// SetAnyEventCallback sets the hook invoked on every dispatched event for
// every connection, regardless of which specific callback also ran.
func (s *Server) SetAnyEventCallback(cb AnyEventFunc) { s.onAnyEvent = cb }

func (s *Server) newConnection(fd int32, remote net.Addr) {
	id := s.nextConnID.Add(1)
	target := s.pool.GetNextLoop()

	conn := newConn(id, fd, remote, target, s.log)
	conn.SetConnectedCallback(s.onConnected)
	conn.SetMessageCallback(s.onMessage)
	conn.SetClosedCallback(s.onClosed)
	conn.SetAnyEventCallback(s.onAnyEvent)
	conn.setServerClosedCallback(s.removeConnection)

	if s.opts.InactiveReleaseEnabled {
		conn.EnableInactiveRelease(uint32(s.opts.InactiveReleaseSeconds))
	}
	conn.established()

	s.mu.Lock()
	s.live[id] = conn
	s.mu.Unlock()

	s.log.Debug("new connection", zap.Uint64("id", id), zap.Int32("fd", fd))
}

// removeConnection is a Conn's server-closed callback: it is invoked from
// the connection's own worker loop, so the actual map mutation is posted
// to the base loop, which is the live index's only legitimate mutator.
func (s *Server) removeConnection(conn *Conn) {
	id := conn.Id()
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
	})
}

// RunAfter schedules cb to run once, delay seconds from now, on the base
// loop's timer wheel, under a synthetic id derived from the connection-id
// counter so it does not collide with a live connection's timer.
func (s *Server) RunAfter(delay uint32, cb func()) {
	id := s.nextConnID.Add(1)
	s.baseLoop.RunInLoop(func() { s.baseLoop.TimerAdd(id, delay, cb) })
}

// Addr returns the listening socket's bound local address, resolving an
// ephemeral port-0 bind to its kernel-assigned port. Mainly useful in
// tests that bind to port 0 and then need to dial back in.
func (s *Server) Addr() (net.Addr, error) {
	sa, err := unix.Getsockname(s.acceptor.fd)
	if err != nil {
		return nil, fmt.Errorf("reactor: getsockname: %w", err)
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}, nil
	default:
		return nil, fmt.Errorf("reactor: unsupported sockaddr type %T", sa)
	}
}

// Start blocks the calling goroutine forever, running the base loop.
func (s *Server) Start() {
	s.baseLoop.Run()
}

// Stop asks the base loop and every worker loop to exit after their
// current iteration. It does not wait for Start to return nor for
// in-flight connections to drain; it is meant for tests and graceful
// shutdown sequences that first stop accepting new work elsewhere.
func (s *Server) Stop() error {
	var errs error
	if err := s.acceptor.close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.baseLoop.Stop()
	for _, l := range s.pool.Loops() {
		l.Stop()
	}
	return errs
}
