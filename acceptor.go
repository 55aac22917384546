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

	"github.com/govoltron/reactor/internal/loop"
	"github.com/govoltron/reactor/internal/sock"
)

// onNewConn is the acceptor's callback signature: a freshly accepted fd
// plus its resolved remote address.
type onNewConn func(fd int32, remote net.Addr)

// acceptor owns the listening socket on the base loop. On readability it
// drains every pending connection (looping Accept until EAGAIN) and hands
// each fd to the configured callback.
type acceptor struct {
	fd     int
	loop   *loop.EventLoop
	handle *loop.EventHandle
	onNew  onNewConn
	log    *zap.Logger
}

func newAcceptor(l *loop.EventLoop, port uint16, bindAddr string, log *zap.Logger) (*acceptor, error) {
	fd, err := sock.CreateServer(port, bindAddr)
	if err != nil {
		return nil, newError(LoopFatal, "create listening socket", err)
	}
	a := &acceptor{fd: fd, loop: l, log: log}
	a.handle = l.NewHandle(int32(fd))
	a.handle.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *acceptor) setNewConnectionCallback(cb onNewConn) { a.onNew = cb }

func (a *acceptor) listen() { a.handle.EnableRead() }

// close deregisters and closes the listening socket. Remove mutates the
// base loop's poller map, which only the base loop's own goroutine may
// touch; posting through RunInLoop and waiting for it keeps that contract
// even though close itself may be called from any goroutine (Server.Stop
// is not guaranteed to run on the base loop).
func (a *acceptor) close() error {
	done := make(chan struct{})
	a.loop.RunInLoop(func() {
		a.handle.Remove()
		close(done)
	})
	<-done
	return sock.Close(a.fd)
}

func (a *acceptor) handleRead() {
	for {
		connFD, remote, ok, err := sock.Accept(a.fd)
		if err != nil {
			a.log.Error("accept failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if a.onNew != nil {
			a.onNew(int32(connFD), remote)
		}
	}
}
