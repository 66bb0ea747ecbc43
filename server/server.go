// Package server exposes the bytecode VM as a network service. The same
// port speaks Connect (HTTP/1.1 and HTTP/2) and gRPC (unencrypted HTTP/2).
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/clox/compiler"
	"github.com/chazu/clox/pkg/bytecode"
	"github.com/chazu/clox/store"
)

var log = commonlog.GetLogger("clox.server")

// Server wraps a VM worker and serves the VM service.
type Server struct {
	worker *VMWorker
	mux    *http.ServeMux

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store     *store.Store
	stackSize int
	compile   bytecode.CompileFunc
}

// WithStore enables RunStored against st. The caller owns st and closes it.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithStackSize sets the operand stack capacity of the served VM.
func WithStackSize(n int) ServerOption {
	return func(c *serverConfig) { c.stackSize = n }
}

// WithCompileFunc replaces the assembler used for Run and Disassemble.
func WithCompileFunc(fn bytecode.CompileFunc) ServerOption {
	return func(c *serverConfig) { c.compile = fn }
}

// New creates a Server with its own VM.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{
		stackSize: bytecode.DefaultStackSize,
		compile:   compiler.Compile,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	v := bytecode.NewVM(bytecode.WithStackSize(cfg.stackSize))
	s := &Server{
		worker: NewVMWorker(v),
		mux:    http.NewServeMux(),
	}

	svc := NewVMService(s.worker, cfg.store, cfg.compile)
	path, handler := NewVMServiceHandler(svc)
	s.mux.Handle(path, handler)

	return s
}

// Handler returns the HTTP handler for all services.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on lis until Shutdown or Stop is called.
// HTTP/2 without TLS is enabled so gRPC clients can connect directly.
func (s *Server) Serve(lis net.Listener) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Handler:           s.mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	addr := lis.Addr().String()
	log.Infof("clox VM service listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	log.Infof("  gRPC (binary):       grpc://%s", addr)

	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe starts the server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.closed = true
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.worker.Stop()
	return err
}

// Stop shuts down the server immediately.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpSrv
	s.closed = true
	s.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
	s.worker.Stop()
}
