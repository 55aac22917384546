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

// Package httpchi bridges a reactor.Server's event-driven Conns into a
// blocking net.Listener/net.Conn pair so that a stdlib net/http.Server (and
// in particular a chi.Router) can be mounted on top of the reactor instead
// of the bespoke regex-routed http package. Grounded on the teacher's own
// adapter.TCPListener/adapter.HTTPServer pair (adapter/tcp.go,
// adapter/http.go), which bridges gnet's layer4.Server the same way: a
// buffered channel of accepted connections feeding http.Serve.
package httpchi

import (
	"errors"
	"net"
	"sync"

	reactor "github.com/govoltron/reactor"
	"github.com/govoltron/reactor/internal/anyval"
	"github.com/govoltron/reactor/internal/buffer"
)

// pipelineCapacity is the buffered-channel depth for both the accept
// pipeline and each connection's inbound byte-chunk pipeline, matching the
// teacher's TCPListener's pipeline channel capacity.
const pipelineCapacity = 10240

// Listener adapts a reactor.Server into a net.Listener: every connected
// Conn is wrapped in a net.Conn-compatible adapter and pushed onto a
// buffered accept channel.
type Listener struct {
	server *reactor.Server

	accept chan net.Conn
	closed chan struct{}
	once   sync.Once
}

// NewListener constructs a reactor.Server bound to port and wires it to
// feed a net.Listener. The reactor server is not yet accepting connections
// until Serve (or the caller's own goroutine running rs.Start) is invoked.
func NewListener(port uint16, opts ...reactor.Option) (*Listener, error) {
	rs, err := reactor.New(port, opts...)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		server: rs,
		accept: make(chan net.Conn, pipelineCapacity),
		closed: make(chan struct{}),
	}
	rs.SetConnectedCallback(l.onConnected)
	rs.SetMessageCallback(l.onMessage)
	rs.SetClosedCallback(l.onClosed)
	return l, nil
}

// Serve starts the underlying reactor server's loop; it blocks the same way
// reactor.Server.Start does, so callers typically run it on its own
// goroutine before calling Accept (directly, or indirectly via
// http.Serve(listener, handler)).
func (l *Listener) Serve() { l.server.Start() }

func (l *Listener) onConnected(c *reactor.Conn) {
	conn := newConn(c)
	c.SetContext(conn)
	select {
	case l.accept <- conn:
	case <-l.closed:
		conn.Close()
	}
}

func (l *Listener) onMessage(c *reactor.Conn, buf *buffer.Buffer) {
	conn, ok := anyval.Get[*conn](c.Context())
	if !ok {
		return
	}
	data := append([]byte(nil), buf.ReadPtr()...)
	buf.AdvanceRead(len(data))
	conn.deliver(data)
}

func (l *Listener) onClosed(c *reactor.Conn) {
	if conn, ok := anyval.Get[*conn](c.Context()); ok {
		conn.markClosed()
	}
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c, ok := <-l.accept:
		if !ok {
			return nil, errors.New("httpchi: listener closed")
		}
		return c, nil
	case <-l.closed:
		return nil, errors.New("httpchi: listener closed")
	}
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr {
	addr, err := l.server.Addr()
	if err != nil {
		return nil
	}
	return addr
}

// Close implements net.Listener: it stops the underlying reactor server and
// unblocks any goroutine parked in Accept.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.server.Stop()
	})
	return err
}
