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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestQueueInLoopRunsOnLoopGoroutine(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	go l.Run()
	defer l.Stop()

	done := make(chan int64, 1)
	l.QueueInLoop(func() { done <- goid() })

	select {
	case id := <-done:
		require.Equal(t, l.goroID.Load(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued task")
	}
}

func TestRunInLoopExecutesInlineWhenAlreadyOnLoop(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	go l.Run()
	defer l.Stop()

	var nested bool
	done := make(chan struct{})
	l.QueueInLoop(func() {
		l.RunInLoop(func() { nested = true })
		close(done)
	})

	<-done
	require.True(t, nested)
}

func TestEventHandleDispatchesReadable(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	go l.Run()
	defer l.Stop()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var mu sync.Mutex
	read := false
	done := make(chan struct{})

	l.QueueInLoop(func() {
		h := l.NewHandle(int32(fds[0]))
		h.SetReadCallback(func() {
			mu.Lock()
			read = true
			mu.Unlock()
			close(done)
		})
		h.EnableRead()
	})

	_, werr := unix.Write(fds[1], []byte("x"))
	require.NoError(t, werr)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read dispatch")
	}
	mu.Lock()
	defer mu.Unlock()
	require.True(t, read)
}

func TestTimerFiresThroughLoop(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{})
	l.TimerAdd(1, 1, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	go l.Run()
	defer l.Stop()

	fired := false
	l.TimerAdd(7, 1, func() { fired = true })
	l.TimerCancel(7)

	done := make(chan struct{})
	l.TimerAdd(8, 2, func() { close(done) })
	<-done
	require.False(t, fired)
}
