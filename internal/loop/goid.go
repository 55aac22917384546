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
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the calling goroutine's numeric id by parsing the header
// line of its own stack trace ("goroutine N [running]:"). The Go runtime
// exposes no supported API for this; EventLoop only ever uses the result
// as a same-thread fast-path check (RunInLoop executes inline when true),
// never as something whose correctness the reactor depends on — getting
// it wrong just costs an extra QueueInLoop hop, which is always safe.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
