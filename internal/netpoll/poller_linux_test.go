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

package netpoll

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollerReportsReadableOnWrite(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Update(int32(fds[0]), Readable))

	_, werr := unix.Write(fds[1], []byte("x"))
	require.NoError(t, werr)

	events, werr := p.Wait(nil)
	require.NoError(t, werr)
	require.Len(t, events, 1)
	require.Equal(t, int32(fds[0]), events[0].Fd)
	require.NotZero(t, events[0].Revents&Readable)
}

func TestPollerRemoveStopsNotifications(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Update(int32(fds[0]), Readable))
	require.NoError(t, p.Remove(int32(fds[0])))

	_, werr := unix.Write(fds[1], []byte("x"))
	require.NoError(t, werr)

	// With fds[0] removed, registering a second unrelated pipe lets us
	// confirm Wait only reports the one still-registered fd.
	var fds2 [2]int
	require.NoError(t, unix.Pipe(fds2[:]))
	defer unix.Close(fds2[0])
	defer unix.Close(fds2[1])
	require.NoError(t, p.Update(int32(fds2[0]), Readable))
	_, werr = unix.Write(fds2[1], []byte("y"))
	require.NoError(t, werr)

	events, werr := p.Wait(nil)
	require.NoError(t, werr)
	require.Len(t, events, 1)
	require.Equal(t, int32(fds2[0]), events[0].Fd)
}

func TestPollerUpdateThenModify(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Update(int32(fds[1]), Writable))
	events, werr := p.Wait(nil)
	require.NoError(t, werr)
	require.Len(t, events, 1)

	// Re-registering the same fd must MOD, not fail with EEXIST.
	require.NoError(t, p.Update(int32(fds[1]), Writable))
}
