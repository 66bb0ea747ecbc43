package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/clox/pkg/bytecode"
	"github.com/chazu/clox/store"
)

// VMServiceName is the fully-qualified name of the VM service.
const VMServiceName = "clox.v1.VMService"

// Procedure paths served by VMService.
const (
	RunProcedure         = "/" + VMServiceName + "/Run"
	DisassembleProcedure = "/" + VMServiceName + "/Disassemble"
	RunStoredProcedure   = "/" + VMServiceName + "/RunStored"
)

// RunIDHeader carries the id assigned to each execution.
const RunIDHeader = "Clox-Run-Id"

// VMService implements the VMService Connect/gRPC handlers. Requests and
// responses use the protobuf well-known wrapper types.
type VMService struct {
	worker  *VMWorker
	store   *store.Store
	compile bytecode.CompileFunc
}

// NewVMService creates a VMService. st may be nil, in which case
// RunStored fails with FailedPrecondition.
func NewVMService(worker *VMWorker, st *store.Store, compile bytecode.CompileFunc) *VMService {
	return &VMService{
		worker:  worker,
		store:   st,
		compile: compile,
	}
}

// NewVMServiceHandler builds an HTTP handler serving every VMService
// procedure and returns the path prefix to mount it on.
func NewVMServiceHandler(svc *VMService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...))
	mux.Handle(RunStoredProcedure, connect.NewUnaryHandler(RunStoredProcedure, svc.RunStored, opts...))
	return "/" + VMServiceName + "/", mux
}

// Run assembles and executes source, returning the value of OP_RETURN.
func (s *VMService) Run(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.DoubleValue], error) {
	source := req.Msg.GetValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	chunk, err := s.compile(source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return s.execute(ctx, chunk)
}

// Disassemble assembles source and returns its listing without running it.
func (s *VMService) Disassemble(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.StringValue], error) {
	source := req.Msg.GetValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	chunk, err := s.compile(source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(wrapperspb.String(chunk.Disassemble("chunk"))), nil
}

// RunStored executes a chunk previously saved in the store.
func (s *VMService) RunStored(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.DoubleValue], error) {
	name := req.Msg.GetValue()
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("chunk name is required"))
	}
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no chunk store configured"))
	}

	chunk, err := s.store.Load(name)
	if err != nil {
		if errors.Is(err, store.ErrChunkNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		if errors.Is(err, bytecode.ErrCorruptImage) || errors.Is(err, store.ErrHashMismatch) {
			return nil, connect.NewError(connect.CodeDataLoss, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return s.execute(ctx, chunk)
}

// execute runs chunk on the worker and maps the outcome to a response.
func (s *VMService) execute(ctx context.Context, chunk *bytecode.Chunk) (*connect.Response[wrapperspb.DoubleValue], error) {
	runID := uuid.New()

	v, err := s.worker.Execute(ctx, chunk)
	if err != nil {
		log.Infof("run %s failed: %s", runID, err)
		switch {
		case errors.Is(err, context.Canceled):
			return nil, connect.NewError(connect.CodeCanceled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		case errors.Is(err, ErrWorkerStopped):
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
		connErr := connect.NewError(connect.CodeInternal, err)
		connErr.Meta().Set(RunIDHeader, runID.String())
		return nil, connErr
	}

	log.Debugf("run %s returned %s", runID, v)
	resp := connect.NewResponse(wrapperspb.Double(float64(v)))
	resp.Header().Set(RunIDHeader, runID.String())
	return resp, nil
}
