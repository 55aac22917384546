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

package loop

import "github.com/govoltron/reactor/internal/netpoll"

// Callback is a zero-argument event hook. EventHandle never inspects its
// own dispatch reason beyond choosing which one to invoke.
type Callback func()

// EventHandle is the per-fd registration unit — the Go analog of the
// original's Channel. It tracks the interest the owning EventLoop has
// registered with the poller, the most recently delivered readiness
// bitmask, and up to five independent callbacks. Exactly one of
// onRead/onWrite/onExcept/onClose fires per dispatch (first match wins,
// read taking priority, mirroring the original's if/else-if chain so a
// callback that releases the underlying fd is never followed by a second
// callback touching it), and onAny — if set — always fires afterward
// regardless of which branch ran.
type EventHandle struct {
	fd       int32
	loop     *EventLoop
	interest uint32
	revents  uint32

	onRead   Callback
	onWrite  Callback
	onExcept Callback
	onClose  Callback
	onAny    Callback
}

func newEventHandle(l *EventLoop, fd int32) *EventHandle {
	return &EventHandle{fd: fd, loop: l}
}

// Fd returns the registered file descriptor.
func (h *EventHandle) Fd() int32 { return h.fd }

// Interest returns the epoll bitmask currently registered for this handle.
func (h *EventHandle) Interest() uint32 { return h.interest }

func (h *EventHandle) SetReadCallback(cb Callback)   { h.onRead = cb }
func (h *EventHandle) SetWriteCallback(cb Callback)  { h.onWrite = cb }
func (h *EventHandle) SetExceptCallback(cb Callback) { h.onExcept = cb }
func (h *EventHandle) SetCloseCallback(cb Callback)  { h.onClose = cb }
func (h *EventHandle) SetAnyCallback(cb Callback)    { h.onAny = cb }

// Readable reports whether read interest is currently registered.
func (h *EventHandle) Readable() bool { return h.interest&netpoll.Readable != 0 }

// Writable reports whether write interest is currently registered.
func (h *EventHandle) Writable() bool { return h.interest&netpoll.Writable != 0 }

// EnableRead registers read interest and pushes the update to the poller.
func (h *EventHandle) EnableRead() {
	h.interest |= netpoll.Readable | netpoll.ReadHup
	h.update()
}

// EnableWrite registers write interest and pushes the update to the poller.
func (h *EventHandle) EnableWrite() {
	h.interest |= netpoll.Writable
	h.update()
}

// DisableRead clears read interest.
func (h *EventHandle) DisableRead() {
	h.interest &^= netpoll.Readable | netpoll.ReadHup
	h.update()
}

// DisableWrite clears write interest.
func (h *EventHandle) DisableWrite() {
	h.interest &^= netpoll.Writable
	h.update()
}

// DisableAll clears every registered interest, leaving the handle
// registered with the poller but dormant.
func (h *EventHandle) DisableAll() {
	h.interest = 0
	h.update()
}

func (h *EventHandle) update() { h.loop.updateHandle(h) }

// Remove unregisters this handle from the loop's poller entirely. Callers
// must not touch the handle's fd after calling Remove.
func (h *EventHandle) Remove() { h.loop.removeHandle(h) }

func (h *EventHandle) setRevents(ev uint32) { h.revents = ev }

// handleEvent dispatches the most recently delivered readiness bitmask to
// exactly one of the four event-specific callbacks, then always invokes
// onAny. It must only be called from the owning loop's goroutine.
func (h *EventHandle) handleEvent() {
	switch {
	case h.revents&(netpoll.Readable|netpoll.ReadHup|netpoll.Priority) != 0:
		if h.onRead != nil {
			h.onRead()
		}
	case h.revents&netpoll.Writable != 0:
		if h.onWrite != nil {
			h.onWrite()
		}
	case h.revents&netpoll.Err != 0:
		if h.onExcept != nil {
			h.onExcept()
		}
	case h.revents&netpoll.Hup != 0:
		if h.onClose != nil {
			h.onClose()
		}
	}
	if h.onAny != nil {
		h.onAny()
	}
}
