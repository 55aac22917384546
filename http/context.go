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

package http

import (
	"regexp"
	"strings"

	"github.com/govoltron/reactor/internal/buffer"
)

// state is a Context's position in its request-parsing state machine.
type state int

const (
	stateError state = iota
	stateLine
	stateHead
	stateBody
	stateOver
)

// maxLineSize bounds a single request line or header line; a complete line
// longer than this, or more than this many buffered bytes with no newline
// in sight, is a 414.
const maxLineSize = 8192

var requestLineRe = regexp.MustCompile(`(?i)^(GET|HEAD|POST|PUT|DELETE) ([^? ]*)(?:\?([^ ]*))? (HTTP/1\.[01])$`)

// Context is the per-connection HTTP parsing state: it accumulates bytes
// off a Conn's in-buffer across however many reads it takes to assemble one
// request. Grounded on original_source/source/http/http.hpp's HttpContext.
type Context struct {
	status  int
	state   state
	request *Request
}

// NewContext returns a fresh Context ready to parse a request line.
func NewContext() *Context {
	return &Context{status: 200, state: stateLine, request: newRequest()}
}

// Status returns the response status the parse itself produced (400, 414,
// or 200 while still in progress / on success).
func (c *Context) Status() int { return c.status }

// Done reports whether a full request has been parsed.
func (c *Context) Done() bool { return c.state == stateOver }

// Reset clears the Context back to a fresh request-line-awaiting state,
// for reuse across a keep-alive connection's next request.
func (c *Context) Reset() {
	c.request.reset()
	c.status = 200
	c.state = stateLine
}

// Request returns the Context's in-progress or completed request.
func (c *Context) Request() *Request { return c.request }

// recvLine reads the next complete line of at most maxLineSize bytes,
// watching for an over-long line whether or not its newline has arrived.
func (c *Context) recvLine(buf *buffer.Buffer) (line []byte, ok bool) {
	raw := buf.GetLineAndPop()
	if raw == nil {
		if buf.ReadableSize() > maxLineSize {
			c.state = stateError
			c.status = 414
			return nil, false
		}
		return nil, true // not enough data yet; caller keeps waiting
	}
	if len(raw) > maxLineSize {
		c.state = stateError
		c.status = 414
		return nil, false
	}
	return raw, true
}

func (c *Context) recvRequestLine(buf *buffer.Buffer) bool {
	if c.state != stateLine {
		return false
	}
	line, ok := c.recvLine(buf)
	if !ok {
		return false
	}
	if line == nil {
		return false // waiting for more data
	}
	return c.parseRequestLine(string(line))
}

func (c *Context) parseRequestLine(line string) bool {
	m := requestLineRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		c.state = stateError
		c.status = 400
		return false
	}
	c.request.Method = strings.ToUpper(m[1])
	c.request.Path = urlDecode(m[2], false)
	c.request.Version = m[4]
	for _, kv := range split(m[3], "&") {
		pos := strings.IndexByte(kv, '=')
		if pos < 0 {
			c.state = stateError
			c.status = 400
			return false
		}
		c.request.SetParam(urlDecode(kv[:pos], false), urlDecode(kv[pos+1:], false))
	}
	c.state = stateHead
	return true
}

func (c *Context) recvRequestHead(buf *buffer.Buffer) bool {
	if c.state != stateHead {
		return false
	}
	for {
		line, ok := c.recvLine(buf)
		if !ok {
			return false
		}
		if line == nil {
			return false // waiting for more data
		}
		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			break
		}
		if !c.parseRequestHead(trimmed) {
			return false
		}
	}
	c.state = stateBody
	return true
}

func (c *Context) parseRequestHead(line string) bool {
	pos := strings.Index(line, ": ")
	if pos < 0 {
		c.state = stateError
		c.status = 400
		return false
	}
	c.request.SetHeader(line[:pos], line[pos+2:])
	return true
}

func (c *Context) recvRequestBody(buf *buffer.Buffer) bool {
	if c.state != stateBody {
		return false
	}
	want := c.request.BodyLength()
	if want == 0 {
		c.state = stateOver
		return true
	}
	need := want - len(c.request.Body)
	avail := buf.ReadableSize()
	if avail >= need {
		c.request.Body = append(c.request.Body, buf.ReadPtr()[:need]...)
		buf.AdvanceRead(need)
		c.state = stateOver
		return true
	}
	c.request.Body = append(c.request.Body, buf.ReadPtr()[:avail]...)
	buf.AdvanceRead(avail)
	return true
}

// RecvRequest feeds buf through whichever parse stage the Context is
// currently in, falling through to later stages within the same call when
// enough data is already buffered — mirroring the original's deliberate
// switch-without-break across RECV_HTTP_LINE/HEAD/BODY.
func (c *Context) RecvRequest(buf *buffer.Buffer) {
	switch c.state {
	case stateLine:
		if !c.recvRequestLine(buf) {
			return
		}
		fallthrough
	case stateHead:
		if !c.recvRequestHead(buf) {
			return
		}
		fallthrough
	case stateBody:
		c.recvRequestBody(buf)
	}
}
