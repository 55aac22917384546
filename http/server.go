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
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	reactor "github.com/govoltron/reactor"
	"github.com/govoltron/reactor/internal/anyval"
	"github.com/govoltron/reactor/internal/buffer"
)

// DefaultTimeout is the idle-connection release window an HTTP Server
// arms on every accepted connection, matching the original's
// DEFAULT_TIMEOUT of 10 seconds.
const DefaultTimeout = 10

// Handler processes a matched Request into a Response.
type Handler func(req *Request, rsp *Response)

type route struct {
	pattern *regexp.Regexp
	handler Handler
}

// Server is an HTTP/1.1 server built on a reactor.Server: it sets an HTTP
// Context on every accepted connection, drives the FSM off each
// connection's in-buffer, and routes completed requests through method
// tables or a static file root. Grounded on original_source's HttpServer.
type Server struct {
	inner    *reactor.Server
	basePath string

	getRoutes    []route
	postRoutes   []route
	putRoutes    []route
	deleteRoutes []route
}

// NewServer constructs an HTTP Server bound to port, with an idle timeout
// of timeoutSeconds (DefaultTimeout if 0), layered on reactor.Options opts.
func NewServer(port uint16, timeoutSeconds uint32, opts ...reactor.Option) (*Server, error) {
	if timeoutSeconds == 0 {
		timeoutSeconds = DefaultTimeout
	}
	inner, err := reactor.New(port, append(opts, reactor.WithInactiveRelease(int(timeoutSeconds)))...)
	if err != nil {
		return nil, err
	}
	s := &Server{inner: inner}
	inner.SetConnectedCallback(s.onConnection)
	inner.SetMessageCallback(s.onMessage)
	return s, nil
}

// SetBasePath configures the root directory static GET/HEAD requests are
// served from. path must already exist and be a directory.
func (s *Server) SetBasePath(path string) {
	s.basePath = path
}

// Get, Post, Put and Delete register a regex pattern -> Handler mapping in
// the corresponding method's route table. A pattern must match the whole
// decoded Path (it is anchored at both ends, see mustRoute); capture groups
// are exposed to the handler via Request.Match.
func (s *Server) Get(pattern string, h Handler)    { s.getRoutes = append(s.getRoutes, mustRoute(pattern, h)) }
func (s *Server) Post(pattern string, h Handler)   { s.postRoutes = append(s.postRoutes, mustRoute(pattern, h)) }
func (s *Server) Put(pattern string, h Handler)    { s.putRoutes = append(s.putRoutes, mustRoute(pattern, h)) }
func (s *Server) Delete(pattern string, h Handler) { s.deleteRoutes = append(s.deleteRoutes, mustRoute(pattern, h)) }

// mustRoute anchors pattern at both ends: the original's regex_match
// requires a whole-string match, not a substring search.
func mustRoute(pattern string, h Handler) route {
	return route{pattern: regexp.MustCompile(`^(?:` + pattern + `)$`), handler: h}
}

// Addr returns the underlying reactor.Server's bound local address.
func (s *Server) Addr() (net.Addr, error) { return s.inner.Addr() }

// Listen starts accepting and blocks forever, mirroring reactor.Server.Start.
func (s *Server) Listen() { s.inner.Start() }

// Close stops the underlying reactor server.
func (s *Server) Close() error { return s.inner.Stop() }

func (s *Server) onConnection(c *reactor.Conn) {
	c.SetContext(NewContext())
}

func (s *Server) onMessage(c *reactor.Conn, buf *buffer.Buffer) {
	for buf.ReadableSize() > 0 {
		ctx, ok := anyval.Get[*Context](c.Context())
		if !ok {
			return
		}
		ctx.RecvRequest(buf)
		req := ctx.Request()

		if ctx.Status() >= 400 {
			rsp := newResponseWithStatus(ctx.Status())
			s.errorHandle(req, rsp)
			s.writeResponse(c, req, rsp)
			ctx.Reset()
			buf.AdvanceRead(buf.ReadableSize())
			c.Shutdown()
			return
		}
		if !ctx.Done() {
			return
		}

		rsp := NewResponse()
		s.route(req, rsp)
		s.writeResponse(c, req, rsp)
		ctx.Reset()
		if !rsp.KeepAlive() {
			c.Shutdown()
		}
	}
}

func (s *Server) writeResponse(c *reactor.Conn, req *Request, rsp *Response) {
	if rsp.redirect {
		rsp.SetHeader("Location", rsp.redirectURL)
	}
	if !rsp.HaveHeader("Content-Length") {
		rsp.SetHeader("Content-Length", strconv.Itoa(len(rsp.Body)))
	}
	if !rsp.HaveHeader("Content-Type") {
		rsp.SetHeader("Content-Type", "text/html")
	}
	if !rsp.HaveHeader("Connection") {
		if req.KeepAlive() {
			rsp.SetHeader("Connection", "keep-alive")
		} else {
			rsp.SetHeader("Connection", "close")
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", req.Version, rsp.StatusCode, statusDesc(rsp.StatusCode))
	for k, v := range rsp.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	c.Send([]byte(b.String()))
	if len(rsp.Body) > 0 {
		c.Send(rsp.Body)
	}
}

func (s *Server) isFileHandler(req *Request) bool {
	if s.basePath == "" {
		return false
	}
	if req.Method != "GET" && req.Method != "HEAD" {
		return false
	}
	if !isValidPath(req.Path) {
		return false
	}
	reqPath := s.basePath + req.Path
	if strings.HasSuffix(req.Path, "/") {
		reqPath += "index.html"
	}
	return isRegular(reqPath)
}

func (s *Server) fileHandler(req *Request, rsp *Response) {
	reqPath := s.basePath + req.Path
	if strings.HasSuffix(req.Path, "/") {
		reqPath += "index.html"
	}
	body, err := os.ReadFile(reqPath)
	if err != nil {
		return
	}
	rsp.SetContent(body, getFileMime(reqPath))
}

func (s *Server) dispatch(req *Request, rsp *Response, routes []route) {
	for _, rt := range routes {
		m := rt.pattern.FindStringSubmatch(req.Path)
		if m == nil {
			continue
		}
		req.Match = m
		rt.handler(req, rsp)
		return
	}
	rsp.StatusCode = 404
}

func (s *Server) route(req *Request, rsp *Response) {
	if s.isFileHandler(req) {
		s.fileHandler(req, rsp)
		return
	}
	switch req.Method {
	case "GET", "HEAD":
		s.dispatch(req, rsp, s.getRoutes)
	case "POST":
		s.dispatch(req, rsp, s.postRoutes)
	case "PUT":
		s.dispatch(req, rsp, s.putRoutes)
	case "DELETE":
		s.dispatch(req, rsp, s.deleteRoutes)
	default:
		rsp.StatusCode = 405
	}
}

func (s *Server) errorHandle(req *Request, rsp *Response) {
	body := "<html><head>" +
		"<meta http-equiv='Content-Type' content='text/html;charset=utf-8'>" +
		"</head><body><h1 style='color:red'>" +
		strconv.Itoa(rsp.StatusCode) + " " + statusDesc(rsp.StatusCode) +
		"</h1></body></html>"
	rsp.SetContent([]byte(body), "text/html")
	rsp.SetHeader("Connection", "close")
}
