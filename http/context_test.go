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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/govoltron/reactor/internal/buffer"
)

func TestContextParsesGetWithQueryAndNoBody(t *testing.T) {
	buf := buffer.New()
	buf.WriteString("GET /hello?word=C%2B%2B HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")

	ctx := NewContext()
	ctx.RecvRequest(buf)

	require.True(t, ctx.Done())
	require.Equal(t, 200, ctx.Status())
	req := ctx.Request()
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/hello", req.Path)
	require.Equal(t, "HTTP/1.1", req.Version)
	require.True(t, req.KeepAlive())
	require.Equal(t, "C++", req.GetParam("word"))
}

func TestContextParsesPostWithBody(t *testing.T) {
	buf := buffer.New()
	buf.WriteString("POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")

	ctx := NewContext()
	ctx.RecvRequest(buf)

	require.True(t, ctx.Done())
	require.Equal(t, "hello", string(ctx.Request().Body))
}

func TestContextHandlesRequestArrivingInPieces(t *testing.T) {
	buf := buffer.New()
	ctx := NewContext()

	buf.WriteString("GET /a HTTP")
	ctx.RecvRequest(buf)
	require.False(t, ctx.Done())
	require.Equal(t, 200, ctx.Status())

	buf.WriteString("/1.1\r\nConnection: close\r\n\r\n")
	ctx.RecvRequest(buf)
	require.True(t, ctx.Done())
	require.Equal(t, "/a", ctx.Request().Path)
}

func TestContextRejectsMalformedRequestLine(t *testing.T) {
	buf := buffer.New()
	buf.WriteString("GARBAGE /x HTTP/1.1\r\n\r\n")

	ctx := NewContext()
	ctx.RecvRequest(buf)

	require.Equal(t, 400, ctx.Status())
	require.False(t, ctx.Done())
}

func TestContextRejectsOverlongLine(t *testing.T) {
	buf := buffer.New()
	longPath := "/" + string(make([]byte, maxLineSize+10))
	buf.WriteString("GET " + longPath + " HTTP/1.1\r\n\r\n")

	ctx := NewContext()
	ctx.RecvRequest(buf)

	require.Equal(t, 414, ctx.Status())
}

func TestContextResetAllowsReuseOnKeepAlive(t *testing.T) {
	buf := buffer.New()
	buf.WriteString("GET /one HTTP/1.1\r\n\r\n")

	ctx := NewContext()
	ctx.RecvRequest(buf)
	require.True(t, ctx.Done())
	require.Equal(t, "/one", ctx.Request().Path)

	ctx.Reset()
	buf.WriteString("GET /two HTTP/1.1\r\n\r\n")
	ctx.RecvRequest(buf)
	require.True(t, ctx.Done())
	require.Equal(t, "/two", ctx.Request().Path)
}
