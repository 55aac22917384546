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

package reactor

import (
	"net"

	"go.uber.org/zap"

	"github.com/govoltron/reactor/internal/anyval"
	"github.com/govoltron/reactor/internal/buffer"
	"github.com/govoltron/reactor/internal/loop"
	"github.com/govoltron/reactor/internal/sock"
)

// Status is a Connection's position in its CONNECTING -> CONNECTED ->
// DISCONNECTING -> DISCONNECTED state machine. DISCONNECTED is terminal;
// every task body on a DISCONNECTED connection is a no-op.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectedFunc, MessageFunc, ClosedFunc and AnyEventFunc are a
// Connection's four user-facing hooks.
type (
	ConnectedFunc func(*Conn)
	MessageFunc   func(*Conn, *buffer.Buffer)
	ClosedFunc    func(*Conn)
	AnyEventFunc  func(*Conn)
)

// Conn is one TCP connection pinned to exactly one worker EventLoop for
// its whole lifetime. SetContext, Send, Shutdown, Release and the
// inactive-release methods post to that loop rather than mutating state
// directly — grounded on the original's Connection class, whose public
// surface forwards everything through RunInLoop/QueueInLoop. The
// Set*Callback setters write their field directly, and the accessors
// (Connected, Status, Context) read fields directly.
type Conn struct {
	id     uint64
	fd     int32
	loop   *loop.EventLoop
	handle *loop.EventHandle
	remote net.Addr

	status Status

	inactiveRelease bool

	in  buffer.Buffer
	out buffer.Buffer

	ctx anyval.Value

	onConnected ConnectedFunc
	onMessage   MessageFunc
	onClosed    ClosedFunc
	onAnyEvent  AnyEventFunc

	onServerClosed func(*Conn)

	log *zap.Logger
}

func newConn(id uint64, fd int32, remote net.Addr, l *loop.EventLoop, log *zap.Logger) *Conn {
	c := &Conn{
		id:     id,
		fd:     fd,
		loop:   l,
		remote: remote,
		status: StatusConnecting,
		log:    log,
	}
	c.handle = l.NewHandle(fd)
	c.handle.SetReadCallback(c.handleRead)
	c.handle.SetWriteCallback(c.handleWrite)
	c.handle.SetExceptCallback(c.handleExcept)
	c.handle.SetCloseCallback(c.handleClosed)
	c.handle.SetAnyCallback(c.handleAnyEvent)
	return c
}

// Id returns the connection's monotonic id, also used as its timer id.
func (c *Conn) Id() uint64 { return c.id }

// Fd returns the underlying socket descriptor.
func (c *Conn) Fd() int32 { return c.fd }

// RemoteAddr returns the peer address captured at accept time.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Connected reports whether the connection has completed its handshake
// and has not begun closing.
func (c *Conn) Connected() bool { return c.status == StatusConnected }

// Status reports the connection's current state-machine position.
func (c *Conn) Status() Status { return c.status }

// SetContext replaces the connection's opaque per-protocol context.
func (c *Conn) SetContext(v any) { c.loop.RunInLoop(func() { c.ctx.Set(v) }) }

// Context returns the connection's opaque per-protocol context slot.
func (c *Conn) Context() *anyval.Value { return &c.ctx }

func (c *Conn) SetConnectedCallback(cb ConnectedFunc)     { c.onConnected = cb }
func (c *Conn) SetMessageCallback(cb MessageFunc)         { c.onMessage = cb }
func (c *Conn) SetClosedCallback(cb ClosedFunc)           { c.onClosed = cb }
func (c *Conn) SetAnyEventCallback(cb AnyEventFunc)       { c.onAnyEvent = cb }
func (c *Conn) setServerClosedCallback(cb func(*Conn))    { c.onServerClosed = cb }

// established transitions CONNECTING -> CONNECTED, enables read interest,
// and fires the connected callback. Posted to the owning loop.
func (c *Conn) established() {
	c.loop.RunInLoop(c.establishedInLoop)
}

func (c *Conn) establishedInLoop() {
	if c.status != StatusConnecting {
		return
	}
	c.status = StatusConnected
	c.handle.EnableRead()
	if c.onConnected != nil {
		c.onConnected(c)
	}
}

// Send copies data into a detached buffer and posts a task appending it
// to the connection's out-buffer, enabling write interest if needed. The
// copy is mandatory: the caller's slice is not guaranteed to outlive the
// time it takes the loop to get around to the task.
func (c *Conn) Send(data []byte) {
	cp := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

func (c *Conn) sendInLoop(data []byte) {
	if c.status == StatusDisconnected {
		return
	}
	c.out.Write(data)
	if !c.handle.Writable() {
		c.handle.EnableWrite()
	}
}

// Shutdown begins a drain-close: buffered input is delivered, buffered
// output is flushed, and only then is the connection released. Posted to
// the owning loop.
func (c *Conn) Shutdown() {
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Conn) shutdownInLoop() {
	if c.status == StatusDisconnected || c.status == StatusDisconnecting {
		return
	}
	c.status = StatusDisconnecting
	if c.in.ReadableSize() > 0 && c.onMessage != nil {
		c.onMessage(c, &c.in)
	}
	if c.out.ReadableSize() > 0 {
		if !c.handle.Writable() {
			c.handle.EnableWrite()
		}
		return
	}
	c.Release()
}

// Release tears the connection down: deregisters its EventHandle, closes
// the fd, cancels any inactivity timer, and fires closed then
// server-closed callbacks. Queued (not run-in-loop) so it only executes
// after the current dispatch pass finishes, matching the original's
// QueueInLoop-based Release — running it inline mid-dispatch could free
// state a later callback in the same pass still expects to touch.
func (c *Conn) Release() {
	c.loop.QueueInLoop(c.releaseInLoop)
}

func (c *Conn) releaseInLoop() {
	if c.status == StatusDisconnected {
		return
	}
	c.status = StatusDisconnected
	c.handle.Remove()
	sock.Close(int(c.fd))
	if c.loop.HaveTimer(c.id) {
		c.disableInactiveReleaseInLoop()
	}
	if c.onClosed != nil {
		c.onClosed(c)
	}
	if c.onServerClosed != nil {
		c.onServerClosed(c)
	}
}

// EnableInactiveRelease arms (or refreshes) a sliding-window idle timer
// that releases the connection after sec seconds without a dispatched
// event.
func (c *Conn) EnableInactiveRelease(sec uint32) {
	c.loop.RunInLoop(func() { c.enableInactiveReleaseInLoop(sec) })
}

func (c *Conn) enableInactiveReleaseInLoop(sec uint32) {
	c.inactiveRelease = true
	if c.loop.HaveTimer(c.id) {
		c.loop.TimerRefresh(c.id)
	} else {
		c.loop.TimerAdd(c.id, sec, c.Release)
	}
}

// DisableInactiveRelease clears the idle-timeout flag and cancels any
// pending timer.
func (c *Conn) DisableInactiveRelease() {
	c.loop.RunInLoop(c.disableInactiveReleaseInLoop)
}

func (c *Conn) disableInactiveReleaseInLoop() {
	c.inactiveRelease = false
	if c.loop.HaveTimer(c.id) {
		c.loop.TimerCancel(c.id)
	}
}

// Upgrade atomically replaces the context and all four user callbacks, so
// that any bytes already sitting in the in-buffer are handed to the new
// protocol layer rather than the old one. Must be called from the owning
// loop — calling it elsewhere risks a race where a read dispatched before
// the swap lands uses the old callback.
func (c *Conn) Upgrade(ctx any, conn ConnectedFunc, msg MessageFunc, closed ClosedFunc, anyEvt AnyEventFunc) {
	c.loop.AssertInLoop()
	c.loop.RunInLoop(func() {
		c.ctx.Set(ctx)
		c.onConnected = conn
		c.onMessage = msg
		c.onClosed = closed
		c.onAnyEvent = anyEvt
	})
}

func (c *Conn) handleRead() {
	var scratch [65536]byte
	n, err := sock.Recv(int(c.fd), scratch[:])
	if err != nil {
		// Both a peer's orderly shutdown (io.EOF) and a genuine fatal
		// errno land here — in either case the socket will not yield any
		// more bytes, so the drain-then-release path is what must run.
		// Treating EOF as "zero bytes, no error" instead (as a spurious
		// EAGAIN wakeup is) would leave read interest armed on an fd that
		// epoll keeps reporting readable forever via EPOLLRDHUP, busy-
		// spinning the loop and never releasing the connection.
		c.log.Debug("connection read failed", zap.Uint64("id", c.id), zap.Error(newError(ConnFatal, "recv", err)))
		c.shutdownInLoop()
		return
	}
	if n == 0 {
		return
	}
	c.in.Write(scratch[:n])
	if c.in.ReadableSize() > 0 && c.onMessage != nil {
		c.onMessage(c, &c.in)
	}
}

func (c *Conn) handleWrite() {
	n, err := sock.Send(int(c.fd), c.out.ReadPtr())
	if err != nil {
		c.log.Debug("connection write failed", zap.Uint64("id", c.id), zap.Error(newError(ConnFatal, "send", err)))
		if c.in.ReadableSize() > 0 && c.onMessage != nil {
			c.onMessage(c, &c.in)
		}
		c.Release()
		return
	}
	c.out.AdvanceRead(n)
	if c.out.ReadableSize() == 0 {
		c.handle.DisableWrite()
		if c.status == StatusDisconnecting {
			c.Release()
		}
	}
}

func (c *Conn) handleClosed() {
	if c.in.ReadableSize() > 0 && c.onMessage != nil {
		c.onMessage(c, &c.in)
	}
	c.Release()
}

func (c *Conn) handleExcept() {
	c.handleClosed()
}

func (c *Conn) handleAnyEvent() {
	if c.inactiveRelease {
		c.loop.TimerRefresh(c.id)
	}
	if c.onAnyEvent != nil {
		c.onAnyEvent(c)
	}
}
