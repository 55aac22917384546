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

package timer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateFD creates a CLOCK_MONOTONIC timerfd armed to fire once after one
// second and then every second thereafter, matching the original's
// CreateTimerfd.
func CreateFD() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("timer: timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Value:    unix.Timespec{Sec: 1, Nsec: 0},
		Interval: unix.Timespec{Sec: 1, Nsec: 0},
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("timer: timerfd_settime: %w", err)
	}
	return fd, nil
}

// ReadFD reads the expiration counter off a timerfd — the number of times
// it has fired since the last read — so a loop that was blocked handling
// other events can catch up on missed ticks in one Tick-per-expiration
// burst.
func ReadFD(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("timer: read timerfd: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("timer: short read on timerfd: %d bytes", n)
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}
