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

package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := NewSize(4)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))
	require.Equal(t, "hello world", string(b.ReadPtr()))
	require.Equal(t, "hello ", b.ReadAsString(6))
	require.Equal(t, "world", b.ReadAsString(5))
	require.Equal(t, 0, b.ReadableSize())
}

func TestBufferGetLine(t *testing.T) {
	b := New()
	b.WriteString("GET / HTTP/1.1\r\n")
	line := b.GetLineAndPop()
	require.Equal(t, "GET / HTTP/1.1\r\n", string(line))
	require.Equal(t, 0, b.ReadableSize())

	b.WriteString("partial-no-newline")
	require.Nil(t, b.GetLineAndPop())
}

func TestBufferCompactionAndGrowthPreserveContent(t *testing.T) {
	b := NewSize(8)
	var want []byte
	for round := 0; round < 50; round++ {
		chunk := make([]byte, 1+round%7)
		for i := range chunk {
			chunk[i] = byte('a' + (round+i)%26)
		}
		b.Write(chunk)
		want = append(want, chunk...)

		if round%3 == 0 && b.ReadableSize() > 2 {
			n := b.ReadableSize() / 2
			got := b.ReadAsString(n)
			require.Equal(t, string(want[:n]), got)
			want = want[n:]
		}
	}
	require.Equal(t, string(want), string(b.ReadPtr()))
}

func TestBufferCursorMonotonicity(t *testing.T) {
	b := NewSize(16)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		if rng.Intn(2) == 0 {
			b.Write(make([]byte, rng.Intn(20)))
		} else if b.ReadableSize() > 0 {
			b.AdvanceRead(rng.Intn(b.ReadableSize() + 1))
		}
		require.LessOrEqual(t, 0, b.ReadableSize())
		require.LessOrEqual(t, b.ReadableSize(), b.Cap())
	}
}

func TestBufferClear(t *testing.T) {
	b := New()
	b.WriteString("abc")
	b.Clear()
	require.Equal(t, 0, b.ReadableSize())
}
