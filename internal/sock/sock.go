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

// Package sock is a thin wrapper over non-blocking IPv4 TCP stream sockets,
// grounded on the raw syscall idiom used throughout the retrieved gnet
// forks (socket/bind/listen/accept4 via golang.org/x/sys/unix) rather than
// net.Listener/net.Conn, because the reactor in this module owns the fd
// directly and drives it through epoll itself.
package sock

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ErrFatal wraps an unrecoverable errno from a socket operation — anything
// other than EAGAIN/EWOULDBLOCK/EINTR.
type ErrFatal struct {
	Op  string
	Err error
}

func (e *ErrFatal) Error() string { return fmt.Sprintf("sock: %s: %v", e.Op, e.Err) }
func (e *ErrFatal) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

const defaultBacklog = 1024

// CreateServer creates a non-blocking IPv4 TCP listening socket bound to
// bindAddr:port with SO_REUSEADDR and SO_REUSEPORT set, and backlog 1024.
// bindAddr of "" means 0.0.0.0.
func CreateServer(port uint16, bindAddr string) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("sock: socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return -1, fmt.Errorf("sock: setsockopt SO_REUSEADDR: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return -1, fmt.Errorf("sock: setsockopt SO_REUSEPORT: %w", err)
	}

	var ip [4]byte
	if bindAddr == "" || bindAddr == "0.0.0.0" {
		ip = [4]byte{0, 0, 0, 0}
	} else {
		parsed := net.ParseIP(bindAddr)
		if parsed == nil || parsed.To4() == nil {
			return -1, fmt.Errorf("sock: invalid IPv4 bind address %q", bindAddr)
		}
		copy(ip[:], parsed.To4())
	}
	sa := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	if err = unix.Bind(fd, sa); err != nil {
		return -1, fmt.Errorf("sock: bind: %w", err)
	}
	if err = unix.Listen(fd, defaultBacklog); err != nil {
		return -1, fmt.Errorf("sock: listen: %w", err)
	}
	if err = SetNonblocking(fd); err != nil {
		return -1, err
	}
	ok = true
	return fd, nil
}

// SetNonblocking puts fd into O_NONBLOCK mode.
func SetNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("sock: set nonblocking: %w", err)
	}
	return nil
}

// Accept accepts a single pending connection from the non-blocking
// listening socket fd. ok is false (with a nil error) when no connection is
// currently pending (EAGAIN) — callers loop on Accept until ok is false.
func Accept(listenFD int) (connFD int, remote net.Addr, ok bool, err error) {
	nfd, sa, aerr := unix.Accept(listenFD)
	if aerr != nil {
		if isTransient(aerr) {
			return -1, nil, false, nil
		}
		return -1, nil, false, &ErrFatal{Op: "accept", Err: aerr}
	}
	if err = SetNonblocking(nfd); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, false, err
	}
	return nfd, sockaddrToAddr(sa), true, nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}
	default:
		return nil
	}
}

// Recv performs a non-blocking read into buf. A transient error (EAGAIN,
// EWOULDBLOCK, EINTR) is reported as (0, nil). A zero-byte, no-error read
// means the peer has done an orderly shutdown (FIN) — unlike a spurious
// wakeup, that is io.EOF, not "try again"; the C++ original draws the same
// distinction by treating recv()==0 as a disconnect rather than folding it
// into the EAGAIN case. Any other error is fatal and the connection must be
// drain-closed.
func Recv(fd int, buf []byte) (n int, err error) {
	n, rerr := unix.Read(fd, buf)
	if rerr != nil {
		if isTransient(rerr) {
			return 0, nil
		}
		return 0, &ErrFatal{Op: "recv", Err: rerr}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Send performs a non-blocking write of buf. A transient error is reported
// as (0, nil); any other error (including EPIPE against a peer that has
// half-closed) is fatal.
func Send(fd int, buf []byte) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, werr := unix.Write(fd, buf)
	if werr != nil {
		if isTransient(werr) {
			return 0, nil
		}
		return 0, &ErrFatal{Op: "send", Err: werr}
	}
	return n, nil
}

// Close closes fd and returns the close error, if any, unchanged.
func Close(fd int) error {
	return unix.Close(fd)
}

// IgnoreSIGPIPE ignores SIGPIPE process-wide, mirroring the C++ original's
// static NetWork bootstrap, so that Send against a peer-closed socket
// surfaces EPIPE through the return value instead of terminating the
// process.
func IgnoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}
