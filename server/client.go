package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/clox/pkg/bytecode"
)

// Client calls a VM service over gRPC. Errors are gRPC status errors;
// inspect them with status.Code.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a VM service at target ("host:port") without TLS.
// Extra options are applied after the insecure credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Run assembles and executes source on the server.
func (c *Client) Run(ctx context.Context, source string) (bytecode.Value, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, RunProcedure, wrapperspb.String(source), out); err != nil {
		return 0, err
	}
	return bytecode.Value(out.GetValue()), nil
}

// Disassemble returns the server's listing for source.
func (c *Client) Disassemble(ctx context.Context, source string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, DisassembleProcedure, wrapperspb.String(source), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// RunStored executes the chunk saved under name on the server.
func (c *Client) RunStored(ctx context.Context, name string) (bytecode.Value, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, RunStoredProcedure, wrapperspb.String(name), out); err != nil {
		return 0, err
	}
	return bytecode.Value(out.GetValue()), nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
