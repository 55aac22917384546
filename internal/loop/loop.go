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

// Package loop implements the One-Loop-Per-Thread reactor core: an
// EventLoop owns one epoll instance, dispatches readiness to registered
// EventHandles, drains a cross-goroutine task queue woken through an
// eventfd, and ticks a timer.Wheel off a timerfd. Grounded on the original
// C++ EventLoop/Channel/Poller trio (source/server.hpp) and on the
// goroutine-per-loop shape used throughout the retrieved gnet forks
// (internal/eventloop.go driving one *netpoll.Poller per worker).
package loop

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/internal/netpoll"
	"github.com/govoltron/reactor/internal/timer"
)

// EventLoop is a single reactor iteration: poll, dispatch, drain tasks,
// repeat. RunInLoop, QueueInLoop, the Timer* methods, IsInLoop and Stop
// are safe to call from any goroutine; RunInLoop/QueueInLoop are how
// cross-goroutine callers get work executed on the loop's own goroutine.
// HaveTimer panics off the loop's goroutine, and NewHandle and the
// EventHandle methods update the handle map and poller without locking.
type EventLoop struct {
	log *zap.Logger

	goroID atomic.Int64 // set once Run's goroutine starts; read via IsInLoop

	poller  *netpoll.Poller
	handles map[int32]*EventHandle

	wakeFD     int
	wakeHandle *EventHandle

	timerFD     int
	timerHandle *EventHandle
	wheel       *timer.Wheel

	mu    sync.Mutex
	tasks []func()

	stopped atomic.Bool

	activeBuf []netpoll.Event
}

// New creates an EventLoop. It must be run from the goroutine that will
// call Run — New itself does not spawn anything.
func New(log *zap.Logger) (*EventLoop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poller, err := netpoll.Open()
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("loop: eventfd: %w", err)
	}
	timerFD, err := timer.CreateFD()
	if err != nil {
		poller.Close()
		unix.Close(wakeFD)
		return nil, err
	}

	l := &EventLoop{
		log:     log,
		poller:  poller,
		handles: make(map[int32]*EventHandle),
		wakeFD:  wakeFD,
		timerFD: timerFD,
		wheel:   timer.New(),
	}
	l.goroID.Store(-1)

	l.wakeHandle = newEventHandle(l, int32(wakeFD))
	l.wakeHandle.SetReadCallback(l.drainWakeFD)
	l.registerHandle(l.wakeHandle)
	l.wakeHandle.EnableRead()

	l.timerHandle = newEventHandle(l, int32(timerFD))
	l.timerHandle.SetReadCallback(l.onTimerFD)
	l.registerHandle(l.timerHandle)
	l.timerHandle.EnableRead()

	return l, nil
}

// NewHandle allocates an EventHandle for fd, registered with this loop.
// Callers still must call EnableRead/EnableWrite before it receives any
// readiness.
func (l *EventLoop) NewHandle(fd int32) *EventHandle {
	h := newEventHandle(l, fd)
	l.registerHandle(h)
	return h
}

func (l *EventLoop) registerHandle(h *EventHandle) {
	l.handles[h.fd] = h
}

func (l *EventLoop) updateHandle(h *EventHandle) {
	l.handles[h.fd] = h
	if err := l.poller.Update(h.fd, h.interest); err != nil {
		l.log.Fatal("epoll update failed", zap.Int32("fd", h.fd), zap.Error(err))
	}
}

func (l *EventLoop) removeHandle(h *EventHandle) {
	delete(l.handles, h.fd)
	if err := l.poller.Remove(h.fd); err != nil {
		l.log.Fatal("epoll remove failed", zap.Int32("fd", h.fd), zap.Error(err))
	}
}

func (l *EventLoop) drainWakeFD() {
	var buf [8]byte
	_, err := unix.Read(l.wakeFD, buf[:])
	if err != nil && err != unix.EAGAIN {
		l.log.Fatal("read eventfd failed", zap.Error(err))
	}
}

func (l *EventLoop) wake() {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(l.wakeFD, b[:]); err != nil && err != unix.EINTR {
		l.log.Fatal("write eventfd failed", zap.Error(err))
	}
}

func (l *EventLoop) onTimerFD() {
	times, err := timer.ReadFD(l.timerFD)
	if err != nil {
		l.log.Fatal("read timerfd failed", zap.Error(err))
	}
	for i := uint64(0); i < times; i++ {
		l.wheel.Tick()
	}
}

// IsInLoop reports whether the calling goroutine is this loop's own.
func (l *EventLoop) IsInLoop() bool {
	return l.goroID.Load() == goid()
}

// AssertInLoop panics if the calling goroutine is not this loop's own.
// Used to guard state that only the loop goroutine may touch without a
// mutex (the handle map, the timer wheel).
func (l *EventLoop) AssertInLoop() {
	if !l.IsInLoop() {
		panic("loop: called from outside owning goroutine")
	}
}

// RunInLoop executes task immediately if the caller is already on this
// loop's goroutine, or queues it otherwise.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoop() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the loop's task queue and wakes it if it is
// currently blocked in the poller.
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	l.wake()
}

func (l *EventLoop) runAllTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, t := range tasks {
		t()
	}
}

// TimerAdd schedules cb to run after delay seconds under id, routed
// through RunInLoop so it is safe to call from any goroutine.
func (l *EventLoop) TimerAdd(id uint64, delay uint32, cb func()) {
	l.RunInLoop(func() { l.wheel.Add(id, delay, cb) })
}

// TimerRefresh re-arms an existing timer, routed through RunInLoop.
func (l *EventLoop) TimerRefresh(id uint64) {
	l.RunInLoop(func() { l.wheel.Refresh(id) })
}

// TimerCancel cancels a pending timer's callback, routed through
// RunInLoop.
func (l *EventLoop) TimerCancel(id uint64) {
	l.RunInLoop(func() { l.wheel.Cancel(id) })
}

// HaveTimer reports whether id has a live timer. Like the original, this
// is only safe to call from the loop's own goroutine.
func (l *EventLoop) HaveTimer(id uint64) bool {
	l.AssertInLoop()
	return l.wheel.Has(id)
}

// Run polls, dispatches, and drains tasks until Stop is called. It blocks
// the calling goroutine and should be invoked exactly once, from a
// dedicated goroutine (see Thread).
func (l *EventLoop) Run() {
	l.goroID.Store(goid())
	for !l.stopped.Load() {
		events, err := l.poller.Wait(l.activeBuf)
		if err != nil {
			l.log.Fatal("poll failed", zap.Error(err))
		}
		l.activeBuf = events
		for _, ev := range events {
			h, ok := l.handles[ev.Fd]
			if !ok {
				continue
			}
			h.setRevents(ev.Revents)
			h.handleEvent()
		}
		l.runAllTasks()
	}
	l.poller.Close()
	unix.Close(l.wakeFD)
	unix.Close(l.timerFD)
}

// Stop asks the loop to exit after its current iteration. Safe to call
// from any goroutine.
func (l *EventLoop) Stop() {
	l.QueueInLoop(func() { l.stopped.Store(true) })
}
