package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/clox/pkg/bytecode"
)

// ErrWorkerStopped is returned by Do once Stop has been called.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*bytecode.VM) (bytecode.Value, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value bytecode.Value
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// A bytecode.VM is not safe for concurrent use; every handler goes
// through the worker.
type VMWorker struct {
	vm       *bytecode.VM
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *bytecode.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *VMWorker) execute(fn func(*bytecode.VM) (bytecode.Value, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			w.vm.Reset()
			result = vmResult{err: fmt.Errorf("vm panic: %v", r)}
		}
	}()
	v, err := fn(w.vm)
	return vmResult{value: v, err: err}
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes, ctx is done, or the worker stops.
func (w *VMWorker) Do(ctx context.Context, fn func(*bytecode.VM) (bytecode.Value, error)) (bytecode.Value, error) {
	select {
	case <-w.quit:
		return 0, ErrWorkerStopped
	default:
	}

	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-w.quit:
		return 0, ErrWorkerStopped
	}

	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-w.quit:
		return 0, ErrWorkerStopped
	}
}

// Execute runs c to completion on the worker's VM.
func (w *VMWorker) Execute(ctx context.Context, c *bytecode.Chunk) (bytecode.Value, error) {
	return w.Do(ctx, func(v *bytecode.VM) (bytecode.Value, error) {
		return v.Execute(c)
	})
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
