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

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Thread spawns an EventLoop on its own goroutine and publishes it once
// constructed, mirroring the original LoopThread: the loop is built on the
// goroutine that runs it (its eventfd/timerfd/poller all belong to that
// goroutine's lifetime) and GetLoop blocks callers until it exists.
type Thread struct {
	ready chan *EventLoop
	once  sync.Once
	loop  *EventLoop
}

// NewThread starts a new goroutine running a fresh EventLoop and returns
// immediately; use GetLoop to obtain the loop once it is up.
func NewThread(log *zap.Logger) *Thread {
	t := &Thread{ready: make(chan *EventLoop, 1)}
	go t.entry(log)
	return t
}

func (t *Thread) entry(log *zap.Logger) {
	l, err := New(log)
	if err != nil {
		// A loop that cannot even create its eventfd/epoll/timerfd has no
		// way to recover; the process is misconfigured (fd exhaustion,
		// namespace restrictions) rather than facing a transient error.
		panic(fmt.Sprintf("loop: failed to start loop thread: %v", err))
	}
	t.ready <- l
	l.Run()
}

// GetLoop blocks until the thread's EventLoop has been constructed, then
// returns it. Safe to call from multiple goroutines and multiple times.
func (t *Thread) GetLoop() *EventLoop {
	t.once.Do(func() { t.loop = <-t.ready })
	return t.loop
}

// Pool manages a main loop (for accepting connections) and a fixed number
// of worker loops, handing work out round robin — the Go analog of the
// original LoopThreadPool.
type Pool struct {
	mainLoop  *EventLoop
	log       *zap.Logger
	threads   []*Thread
	loops     []*EventLoop
	nextIndex int
}

// NewPool creates a pool bound to mainLoop. Call SetThreadNum then Create
// before GetNextLoop is used.
func NewPool(mainLoop *EventLoop, log *zap.Logger) *Pool {
	return &Pool{mainLoop: mainLoop, log: log}
}

// SetThreadNum configures the number of worker loops Create will spawn.
// Must be called before Create.
func (p *Pool) SetThreadNum(n int) {
	p.threads = make([]*Thread, n)
}

// Create spawns the configured number of worker loop threads and blocks
// until each of their EventLoops is ready.
func (p *Pool) Create() {
	if len(p.threads) == 0 {
		return
	}
	p.loops = make([]*EventLoop, len(p.threads))
	for i := range p.threads {
		p.threads[i] = NewThread(p.log)
		p.loops[i] = p.threads[i].GetLoop()
	}
}

// GetNextLoop returns the next worker loop in round-robin order, or the
// main loop if no worker loops were configured.
func (p *Pool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.mainLoop
	}
	l := p.loops[p.nextIndex]
	p.nextIndex = (p.nextIndex + 1) % len(p.loops)
	return l
}

// Loops returns the pool's worker loops (excluding the main loop).
func (p *Pool) Loops() []*EventLoop {
	return p.loops
}
