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

package timer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tick(w *Wheel, n int) {
	for i := 0; i < n; i++ {
		w.Tick()
	}
}

func TestWheelFiresAfterDelay(t *testing.T) {
	w := New()
	fired := false
	w.Add(1, 3, func() { fired = true })

	tick(w, 2)
	require.False(t, fired)
	require.True(t, w.Has(1))

	tick(w, 1)
	require.True(t, fired)
	require.False(t, w.Has(1))
}

func TestWheelCancelSuppressesCallback(t *testing.T) {
	w := New()
	fired := false
	w.Add(1, 2, func() { fired = true })
	w.Cancel(1)

	tick(w, 2)
	require.False(t, fired)
	require.False(t, w.Has(1))
}

func TestWheelRefreshExtendsLifetime(t *testing.T) {
	w := New()
	count := 0
	w.Add(1, 3, func() { count++ })

	tick(w, 2)
	w.Refresh(1) // re-armed for 3 more seconds from tick=2

	tick(w, 2)
	require.Equal(t, 0, count, "original 3-second slot should have only dropped one ref")
	require.True(t, w.Has(1))

	tick(w, 1)
	require.Equal(t, 1, count)
	require.False(t, w.Has(1))
}

func TestWheelRefreshOnUnknownIDIsNoop(t *testing.T) {
	w := New()
	require.NotPanics(t, func() { w.Refresh(42) })
	require.False(t, w.Has(42))
}

func TestWheelCancelOnUnknownIDIsNoop(t *testing.T) {
	w := New()
	require.NotPanics(t, func() { w.Cancel(42) })
}

func TestWheelMultipleTasksIndependent(t *testing.T) {
	w := New()
	var order []int
	w.Add(1, 1, func() { order = append(order, 1) })
	w.Add(2, 1, func() { order = append(order, 2) })
	w.Add(3, 5, func() { order = append(order, 3) })

	tick(w, 1)
	require.ElementsMatch(t, []int{1, 2}, order)

	tick(w, 4)
	require.Equal(t, []int{1, 2, 3}, append([]int{}, order...))
}

func TestWheelDelayClampedToCapacity(t *testing.T) {
	w := New()
	fired := false
	w.Add(1, Capacity+10, func() { fired = true })

	tick(w, Capacity-1)
	require.True(t, fired)
}
