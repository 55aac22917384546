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

package httpchi

import (
	"net"
	"net/http"

	"github.com/go-chi/chi"

	reactor "github.com/govoltron/reactor"
)

// Server mounts a chi.Router on top of a reactor.Server, the way the
// teacher's adapter.HTTPServer mounts a chi.Router on top of a
// layer4.Server via its own TCPListener bridge.
type Server struct {
	Router chi.Router

	listener *Listener
}

// NewServer constructs a Server bound to port. Router defaults to a fresh
// chi.NewRouter if left nil before Start is called.
func NewServer(port uint16, opts ...reactor.Option) (*Server, error) {
	l, err := NewListener(port, opts...)
	if err != nil {
		return nil, err
	}
	return &Server{listener: l}, nil
}

// Addr returns the underlying reactor server's bound local address.
func (s *Server) Addr() (net.Addr, error) { return s.listener.server.Addr() }

// Start runs the reactor server's accept loop in the background and then
// blocks serving HTTP over the resulting listener, exactly the way the
// teacher's adapter.HTTPServer.Start calls listener.AsyncStart followed by
// a blocking http.Serve.
func (s *Server) Start() error {
	if s.Router == nil {
		s.Router = chi.NewRouter()
	}
	go s.listener.Serve()
	return http.Serve(s.listener, s.Router)
}

// Close stops the underlying reactor server and the HTTP listener.
func (s *Server) Close() error {
	return s.listener.Close()
}
