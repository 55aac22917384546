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

//go:build linux

// Package netpoll wraps epoll: registers/updates/removes per-fd interest
// and waits for readiness. Grounded on the poller split seen across the
// retrieved gnet forks (internal/netpoll.Poller in walkon-gnet,
// li-ma-gnet's eventloop.go driving a *netpoll.Poller) and on the original
// C++ Poller class (source/server.hpp), translated from its
// unordered_map<int, Channel*> bookkeeping to a plain set of registered fds
// (map[int32]struct{}) since this package does not know about callbacks —
// the caller passes the interest bitmask on every Update. A Poller is only safe for use by a single goroutine (the
// EventLoop that owns it).
package netpoll

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest bits, aliased from the epoll bitmask so callers never need to
// import golang.org/x/sys/unix directly.
const (
	Readable = unix.EPOLLIN
	Writable = unix.EPOLLOUT
	ReadHup  = unix.EPOLLRDHUP
	Priority = unix.EPOLLPRI
	Err      = unix.EPOLLERR
	Hup      = unix.EPOLLHUP
)

// MaxEvents bounds a single Wait's readiness batch, mirroring the original's
// MAX_EPOLLEVENTS.
const MaxEvents = 1024

// Event is one readiness notification: the registered fd and the kernel's
// delivered event bitmask.
type Event struct {
	Fd      int32
	Revents uint32
}

// Poller owns an epoll instance and the set of fds currently registered
// with it.
type Poller struct {
	epfd       int
	registered map[int32]struct{}
	events     [MaxEvents]unix.EpollEvent
}

// Open creates a new epoll instance.
func Open() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd, registered: make(map[int32]struct{})}, nil
}

// Update registers fd for interest if not already registered, or modifies
// its interest set if it is — the single entry point described in spec
// §4.5 ("if fd already registered, modify; else add").
func (p *Poller) Update(fd int32, interest uint32) error {
	ev := unix.EpollEvent{Events: interest, Fd: fd}
	op := unix.EPOLL_CTL_MOD
	if _, ok := p.registered[fd]; !ok {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(p.epfd, op, int(fd), &ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl: %w", err)
	}
	p.registered[fd] = struct{}{}
	return nil
}

// Remove unregisters fd entirely.
func (p *Poller) Remove(fd int32) error {
	if _, ok := p.registered[fd]; !ok {
		return nil
	}
	delete(p.registered, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl del: %w", err)
	}
	return nil
}

// Wait blocks until at least one registered fd is ready, or an interrupt
// arrives, and returns the ready events in out, truncated to zero length
// first (its backing array is reused).
// EINTR is swallowed and returns a zero-length slice with a nil error; any
// other failure is fatal and reported to the caller to abort the process.
func (p *Poller) Wait(out []Event) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events[:], -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return out[:0], nil
		}
		return out[:0], fmt.Errorf("netpoll: epoll_wait: %w", err)
	}
	out = out[:0]
	for i := 0; i < n; i++ {
		out = append(out, Event{Fd: p.events[i].Fd, Revents: p.events[i].Events})
	}
	return out, nil
}

// Close closes the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
