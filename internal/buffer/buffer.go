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

// Package buffer implements the staging area a Conn uses for its in-buffer
// and out-buffer: a growable byte slice with separate read and write
// cursors, compacted or grown on demand. Not safe for concurrent use — a
// Buffer is owned exclusively by the loop thread of the Conn that holds it.
package buffer

import "bytes"

// DefaultSize is the initial capacity of a new Buffer.
const DefaultSize = 1024

// Buffer is a resizable byte staging area with independent read and write
// cursors. Readable bytes are the range [readOff, writeOff).
type Buffer struct {
	buf      []byte
	readOff  int
	writeOff int
}

// New returns an empty Buffer with DefaultSize capacity.
func New() *Buffer {
	return &Buffer{buf: make([]byte, DefaultSize)}
}

// NewSize returns an empty Buffer with the given initial capacity.
func NewSize(n int) *Buffer {
	if n < 0 {
		n = 0
	}
	return &Buffer{buf: make([]byte, n)}
}

// ReadableSize returns the number of bytes available to read.
func (b *Buffer) ReadableSize() int {
	return b.writeOff - b.readOff
}

// headSlack is the free space before readOff.
func (b *Buffer) headSlack() int {
	return b.readOff
}

// tailSlack is the free space after writeOff.
func (b *Buffer) tailSlack() int {
	return len(b.buf) - b.writeOff
}

// ReadPtr returns the readable range [readOff, writeOff). The slice aliases
// the Buffer's storage and is only valid until the next mutating call.
func (b *Buffer) ReadPtr() []byte {
	return b.buf[b.readOff:b.writeOff]
}

// WritePtr returns the writable tail range [writeOff, cap). The slice
// aliases the Buffer's storage and is only valid until the next mutating
// call.
func (b *Buffer) WritePtr() []byte {
	return b.buf[b.writeOff:]
}

// AdvanceRead moves the read cursor forward by n bytes. n must not exceed
// ReadableSize.
func (b *Buffer) AdvanceRead(n int) {
	if n == 0 {
		return
	}
	if n > b.ReadableSize() {
		panic("buffer: AdvanceRead beyond readable range")
	}
	b.readOff += n
	if b.readOff == b.writeOff {
		// Nothing left to read; reclaim the whole buffer for writes.
		b.readOff = 0
		b.writeOff = 0
	}
}

// AdvanceWrite moves the write cursor forward by n bytes, as after a direct
// write into WritePtr's slice. n must not exceed the tail slack.
func (b *Buffer) AdvanceWrite(n int) {
	if n > b.tailSlack() {
		panic("buffer: AdvanceWrite beyond tail slack")
	}
	b.writeOff += n
}

// EnsureWritable guarantees at least n bytes of writable tail space,
// compacting in place or growing the backing array as needed.
func (b *Buffer) EnsureWritable(n int) {
	if b.tailSlack() >= n {
		return
	}
	if b.headSlack()+b.tailSlack() >= n {
		readable := b.ReadableSize()
		copy(b.buf, b.buf[b.readOff:b.writeOff])
		b.readOff = 0
		b.writeOff = readable
		return
	}
	grown := make([]byte, b.writeOff+n)
	copy(grown, b.buf[:b.writeOff])
	b.buf = grown
}

// Write appends p to the buffer, growing or compacting as necessary.
func (b *Buffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.EnsureWritable(len(p))
	copy(b.buf[b.writeOff:], p)
	b.writeOff += len(p)
}

// WriteString appends s to the buffer.
func (b *Buffer) WriteString(s string) {
	b.Write([]byte(s))
}

// ReadInto copies the next n readable bytes into dst and advances the read
// cursor. n must not exceed ReadableSize, and len(dst) must be >= n.
func (b *Buffer) ReadInto(dst []byte, n int) {
	if n > b.ReadableSize() {
		panic("buffer: ReadInto beyond readable range")
	}
	copy(dst, b.buf[b.readOff:b.readOff+n])
	b.AdvanceRead(n)
}

// ReadAsString returns the next n readable bytes as a string and advances
// the read cursor. n must not exceed ReadableSize.
func (b *Buffer) ReadAsString(n int) string {
	if n > b.ReadableSize() {
		panic("buffer: ReadAsString beyond readable range")
	}
	s := string(b.buf[b.readOff : b.readOff+n])
	b.AdvanceRead(n)
	return s
}

// FindNewline returns the offset of the next '\n' within the readable
// range, relative to readOff, and true if one was found.
func (b *Buffer) FindNewline() (int, bool) {
	idx := bytes.IndexByte(b.ReadPtr(), '\n')
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// GetLine returns the readable range up to and including the next '\n',
// without consuming it. It returns nil if no newline is present yet.
func (b *Buffer) GetLine() []byte {
	idx, ok := b.FindNewline()
	if !ok {
		return nil
	}
	return b.ReadPtr()[:idx+1]
}

// GetLineAndPop is GetLine followed by AdvanceRead of the returned length.
// It returns nil if no newline is present yet, and leaves the cursor
// unchanged in that case.
func (b *Buffer) GetLineAndPop() []byte {
	line := b.GetLine()
	if line == nil {
		return nil
	}
	out := make([]byte, len(line))
	copy(out, line)
	b.AdvanceRead(len(line))
	return out
}

// Clear resets both cursors to zero, discarding all buffered bytes without
// shrinking the backing array.
func (b *Buffer) Clear() {
	b.readOff = 0
	b.writeOff = 0
}

// Cap returns the current backing-array capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}
