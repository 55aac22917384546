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

package httpchi

import (
	"net"
	"sync"
	"time"

	reactor "github.com/govoltron/reactor"
)

// conn adapts one reactor.Conn into a blocking net.Conn: inbound byte
// chunks handed to it from the reactor's own loop goroutine (via deliver)
// are queued on a buffered channel and assembled into Read's caller-sized
// slices on whatever goroutine net/http is running the handler on; Write
// hands off to Conn.Send, which already copies and queues the bytes onto
// the owning loop itself. No flow control is modeled in either direction,
// matching the teacher's TCPListener bridge, which does not model
// backpressure beyond its channel capacity either.
type conn struct {
	c *reactor.Conn

	mu     sync.Mutex
	chunks chan []byte
	rest   []byte
	closed bool
	closeC chan struct{}
}

func newConn(c *reactor.Conn) *conn {
	return &conn{
		c:      c,
		chunks: make(chan []byte, pipelineCapacity),
		closeC: make(chan struct{}),
	}
}

// deliver is called from the owning Conn's loop goroutine with a detached
// copy of newly readable bytes.
func (a *conn) deliver(p []byte) {
	select {
	case a.chunks <- p:
	case <-a.closeC:
	}
}

func (a *conn) markClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.closeC)
}

func (a *conn) Read(p []byte) (int, error) {
	if len(a.rest) == 0 {
		select {
		case chunk, ok := <-a.chunks:
			if !ok {
				return 0, net.ErrClosed
			}
			a.rest = chunk
		case <-a.closeC:
			select {
			case chunk := <-a.chunks:
				a.rest = chunk
			default:
				return 0, net.ErrClosed
			}
		}
	}
	n := copy(p, a.rest)
	a.rest = a.rest[n:]
	return n, nil
}

func (a *conn) Write(p []byte) (int, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	a.c.Send(p)
	return len(p), nil
}

func (a *conn) Close() error {
	a.c.Shutdown()
	return nil
}

func (a *conn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (a *conn) RemoteAddr() net.Addr               { return a.c.RemoteAddr() }
func (a *conn) SetDeadline(t time.Time) error      { return nil }
func (a *conn) SetReadDeadline(t time.Time) error  { return nil }
func (a *conn) SetWriteDeadline(t time.Time) error { return nil }
