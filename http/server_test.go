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
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	reactor "github.com/govoltron/reactor"
)

func startTestHTTPServer(t *testing.T, configure func(*Server)) uint16 {
	t.Helper()
	s, err := NewServer(0, 5, reactor.WithBindAddr("127.0.0.1"))
	require.NoError(t, err)
	if configure != nil {
		configure(s)
	}

	addr, err := s.Addr()
	require.NoError(t, err)
	port := uint16(addr.(*net.TCPAddr).Port)

	go s.Listen()
	t.Cleanup(func() { s.Close() })
	return port
}

func dialHTTP(t *testing.T, port uint16) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(port)))
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed to dial test http server: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readResponse(t *testing.T, conn net.Conn) (statusLine string, headers map[string]string, body string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	headers = make(map[string]string)
	for {
		line, rerr := reader.ReadString('\n')
		require.NoError(t, rerr)
		if line == "\r\n" {
			break
		}
		pos := indexByte(line, ':')
		require.GreaterOrEqual(t, pos, 0)
		key := line[:pos]
		val := trimSpaceCRLF(line[pos+1:])
		headers[key] = val
	}

	n, _ := strconv.Atoi(headers["Content-Length"])
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, rerr := reader.Read(buf[total:])
		total += k
		if rerr != nil {
			break
		}
	}
	return statusLine, headers, string(buf[:total])
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func trimSpaceCRLF(s string) string {
	for len(s) > 0 && (s[0] == ' ') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestServerRoutesGetRequest(t *testing.T) {
	port := startTestHTTPServer(t, func(s *Server) {
		s.Get("/hello", func(req *Request, rsp *Response) {
			rsp.SetContent([]byte("hi there"), "text/plain")
		})
	})

	conn := dialHTTP(t, port)
	defer conn.Close()
	_, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	statusLine, _, body := readResponse(t, conn)
	require.Contains(t, statusLine, "200")
	require.Equal(t, "hi there", body)
}

func TestServerReturns404ForUnmatchedRoute(t *testing.T) {
	port := startTestHTTPServer(t, nil)

	conn := dialHTTP(t, port)
	defer conn.Close()
	_, err := conn.Write([]byte("GET /missing HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	statusLine, _, _ := readResponse(t, conn)
	require.Contains(t, statusLine, "404")
}

func TestServerReturns400ForMalformedRequestLine(t *testing.T) {
	port := startTestHTTPServer(t, nil)

	conn := dialHTTP(t, port)
	defer conn.Close()
	_, err := conn.Write([]byte("NOTAMETHOD /x HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	statusLine, _, _ := readResponse(t, conn)
	require.Contains(t, statusLine, "400")
}

func TestServerKeepAliveHandlesTwoRequestsOnOneConnection(t *testing.T) {
	port := startTestHTTPServer(t, func(s *Server) {
		s.Get("/count", func(req *Request, rsp *Response) {
			rsp.SetContent([]byte("ok"), "text/plain")
		})
	})

	conn := dialHTTP(t, port)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		_, err := conn.Write([]byte("GET /count HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
		require.NoError(t, err)
		statusLine, headers, body := readResponse(t, conn)
		require.Contains(t, statusLine, "200")
		require.Equal(t, "keep-alive", headers["Connection"])
		require.Equal(t, "ok", body)
	}
}
