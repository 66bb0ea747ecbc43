package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/clox/compiler"
	"github.com/chazu/clox/store"
)

// startServer serves s on a loopback listener and returns its address.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()
	t.Cleanup(func() {
		s.Stop()
		if err := <-errc; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return lis.Addr().String()
}

func TestConnectClient(t *testing.T) {
	s := New()
	defer s.Stop()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	run := connect.NewClient[wrapperspb.StringValue, wrapperspb.DoubleValue](
		http.DefaultClient, ts.URL+RunProcedure)
	resp, err := run.CallUnary(bg(), connect.NewRequest(wrapperspb.String(addSource)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Msg.GetValue() != 5 {
		t.Errorf("Run = %v, want 5", resp.Msg.GetValue())
	}
	if resp.Header().Get(RunIDHeader) == "" {
		t.Error("missing run id header")
	}

	_, err = run.CallUnary(bg(), connect.NewRequest(wrapperspb.String("BOGUS")))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("compile error code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestConnectJSON(t *testing.T) {
	s := New()
	defer s.Stop()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := strings.NewReader(`"CONSTANT 4\nCONSTANT 2\nDIVIDE\nRETURN"`)
	resp, err := http.Post(ts.URL+RunProcedure, "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sb strings.Builder
	if _, err := sb.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(sb.String()); got != "2" {
		t.Errorf("body = %q, want 2", got)
	}
}

func TestGRPCClient(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	c, err := compiler.Compile("CONSTANT 6\nCONSTANT 7\nMULTIPLY\nRETURN")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Save("answer", c); err != nil {
		t.Fatal(err)
	}

	addr := startServer(t, New(WithStore(st)))

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()

	v, err := client.Run(ctx, addSource)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v != 5 {
		t.Errorf("Run = %v, want 5", v)
	}

	listing, err := client.Disassemble(ctx, addSource)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !strings.HasPrefix(listing, "== chunk ==\n0000    1 OP_CONSTANT") {
		t.Errorf("Disassemble = %q", listing)
	}

	v, err = client.RunStored(ctx, "answer")
	if err != nil {
		t.Fatalf("RunStored: %v", err)
	}
	if v != 42 {
		t.Errorf("RunStored = %v, want 42", v)
	}

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"compile error", func() error { _, err := client.Run(ctx, "NOPE"); return err }, codes.InvalidArgument},
		{"runtime error", func() error { _, err := client.Run(ctx, "RETURN"); return err }, codes.Internal},
		{"missing chunk", func() error { _, err := client.RunStored(ctx, "nope"); return err }, codes.NotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := status.Code(tc.call()); code != tc.code {
				t.Errorf("code = %v, want %v", code, tc.code)
			}
		})
	}
}

func TestWithStackSize(t *testing.T) {
	s := New(WithStackSize(2))
	defer s.Stop()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	run := connect.NewClient[wrapperspb.StringValue, wrapperspb.DoubleValue](
		http.DefaultClient, ts.URL+RunProcedure)
	_, err := run.CallUnary(bg(), connect.NewRequest(wrapperspb.String("CONSTANT 1\nCONSTANT 2\nCONSTANT 3\nRETURN")))
	if connect.CodeOf(err) != connect.CodeInternal {
		t.Errorf("overflow code = %v, want Internal", connect.CodeOf(err))
	}
	if err == nil || !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("error = %v, want stack overflow", err)
	}
}

func TestStopBeforeServe(t *testing.T) {
	s := New()
	s.Stop()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Serve(lis); err != nil {
		t.Errorf("Serve after Stop = %v, want nil", err)
	}
}

func TestShutdown(t *testing.T) {
	s := New()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()

	client, err := Dial(lis.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()
	if _, err := client.Run(ctx, addSource); err != nil {
		t.Fatalf("Run: %v", err)
	}
	client.Close()

	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Serve: %v", err)
	}
}
