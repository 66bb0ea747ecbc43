package bytecode

import (
	"errors"
	"io"

	"github.com/tliron/commonlog"
)

// DefaultStackSize is the operand stack capacity used when none is given.
const DefaultStackSize = 256

// CompileFunc turns source text into a populated chunk.
type CompileFunc func(source string) (*Chunk, error)

// State is the VM's position in its lifecycle.
type State int

const (
	// StateReady means a chunk is loaded and nothing has executed yet.
	StateReady State = iota
	// StateRunning means at least one instruction has executed.
	StateRunning
	// StateHalted means OP_RETURN produced a result. Terminal.
	StateHalted
	// StateFatal means execution stopped on an error. Terminal.
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// InterpretResult classifies the outcome of Interpret.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// ResultOf classifies an error returned by Interpret, Execute or Run.
// Only a *RuntimeError counts as a runtime error; every other failure,
// including a bad image or an overfull constant pool, counts as a compile
// error.
func ResultOf(err error) InterpretResult {
	if err == nil {
		return InterpretOK
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return InterpretRuntimeError
	}
	return InterpretCompileError
}

// VM executes one chunk at a time against a fixed-capacity operand stack.
// A VM is not safe for concurrent use; the chunk it runs must outlive the
// run and must not change during it.
type VM struct {
	chunk *Chunk
	ip    int     // Offset of the next byte to fetch
	stack []Value // Fixed capacity, never resliced
	sp    int     // One past the top value

	state  State
	result Value
	err    error

	trace io.Writer
	log   commonlog.Logger
}

// VMOption configures a VM.
type VMOption func(*VM)

// WithStackSize sets the operand stack capacity.
func WithStackSize(n int) VMOption {
	return func(vm *VM) {
		if n > 0 {
			vm.stack = make([]Value, n)
		}
	}
}

// WithTrace writes the stack and each instruction to w before it executes.
func WithTrace(w io.Writer) VMOption {
	return func(vm *VM) { vm.trace = w }
}

// WithLogger replaces the default "clox.vm" logger.
func WithLogger(log commonlog.Logger) VMOption {
	return func(vm *VM) { vm.log = log }
}

// NewVM creates a new VM instance.
func NewVM(opts ...VMOption) *VM {
	vm := &VM{
		stack: make([]Value, DefaultStackSize),
		log:   commonlog.GetLogger("clox.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// SetTrace turns execution tracing on (non-nil w) or off.
func (vm *VM) SetTrace(w io.Writer) {
	vm.trace = w
}

// Load prepares c for execution and puts the VM in StateReady.
func (vm *VM) Load(c *Chunk) {
	vm.Reset()
	vm.chunk = c
}

// Reset empties the stack, detaches the chunk and clears any result.
func (vm *VM) Reset() {
	vm.chunk = nil
	vm.ip = 0
	vm.sp = 0
	vm.state = StateReady
	vm.result = 0
	vm.err = nil
}

// Execute loads c and runs it to completion.
func (vm *VM) Execute(c *Chunk) (Value, error) {
	vm.Load(c)
	return vm.Run()
}

// Interpret compiles source with compile and executes the result.
func (vm *VM) Interpret(source string, compile CompileFunc) (Value, error) {
	c, err := compile(source)
	if err != nil {
		return 0, err
	}
	return vm.Execute(c)
}

// Run executes instructions until OP_RETURN or a fatal error.
func (vm *VM) Run() (Value, error) {
	for {
		if err := vm.Step(); err != nil {
			return 0, err
		}
		if vm.state == StateHalted {
			return vm.result, nil
		}
	}
}

// Step fetches, decodes and executes a single instruction.
func (vm *VM) Step() error {
	switch vm.state {
	case StateHalted:
		return ErrHalted
	case StateFatal:
		return vm.err
	}
	if vm.chunk == nil {
		return ErrNotLoaded
	}
	vm.state = StateRunning

	if vm.trace != nil {
		vm.traceInstruction()
	}

	code := vm.chunk.code
	offset := vm.ip
	if offset >= len(code) {
		return vm.fail(ErrCodeOverrun, offset, 0)
	}
	op := Opcode(code[offset])
	vm.ip++

	switch op {
	case OpConstant, OpConstantLong:
		idx, width, ok := vm.chunk.readConstantIndex(offset)
		if !ok {
			return vm.fail(ErrCodeOverrun, offset, op)
		}
		vm.ip = offset + width
		v, ok := vm.chunk.constants.At(idx)
		if !ok {
			return vm.fail(ErrConstantRange, offset, op)
		}
		if errno := vm.push(v); errno != 0 {
			return vm.fail(errno, offset, op)
		}

	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		if vm.sp < 2 {
			return vm.fail(ErrStackUnderflow, offset, op)
		}
		right := vm.stack[vm.sp-1]
		left := vm.stack[vm.sp-2]
		vm.sp--
		vm.stack[vm.sp-1] = binaryOpFor(op).apply(left, right)

	case OpNegate:
		if vm.sp < 1 {
			return vm.fail(ErrStackUnderflow, offset, op)
		}
		vm.stack[vm.sp-1] = -vm.stack[vm.sp-1]

	case OpReturn:
		v, errno := vm.pop()
		if errno != 0 {
			return vm.fail(errno, offset, op)
		}
		vm.result = v
		vm.state = StateHalted
		vm.log.Debugf("halted at offset %04d with %s", offset, v)

	default:
		return vm.fail(ErrUnknownOpcode, offset, op)
	}
	return nil
}

// binaryOp is one of the four arithmetic operators.
type binaryOp int

const (
	binaryAdd binaryOp = iota
	binarySubtract
	binaryMultiply
	binaryDivide
)

func binaryOpFor(op Opcode) binaryOp {
	return binaryOp(op - OpAdd)
}

// apply computes left op right with IEEE-754 semantics; division by
// zero yields an infinity or NaN.
func (b binaryOp) apply(left, right Value) Value {
	switch b {
	case binaryAdd:
		return left + right
	case binarySubtract:
		return left - right
	case binaryMultiply:
		return left * right
	default:
		return left / right
	}
}

func (vm *VM) push(v Value) Errno {
	if vm.sp >= len(vm.stack) {
		return ErrStackOverflow
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return 0
}

func (vm *VM) pop() (Value, Errno) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	vm.sp--
	return vm.stack[vm.sp], 0
}

// fail records a fatal error and moves the VM to StateFatal.
func (vm *VM) fail(errno Errno, offset int, op Opcode) error {
	line, _ := vm.chunk.Line(offset)
	err := &RuntimeError{
		Errno:  errno,
		Offset: offset,
		Line:   line,
		Op:     op,
		Stack:  vm.Stack(),
	}
	vm.state = StateFatal
	vm.err = err
	vm.log.Errorf("%s", err)
	return err
}

// State returns the VM's lifecycle state.
func (vm *VM) State() State {
	return vm.state
}

// Err returns the error that made the VM fatal, or nil.
func (vm *VM) Err() error {
	return vm.err
}

// Result returns the value OP_RETURN produced. Only meaningful once halted.
func (vm *VM) Result() Value {
	return vm.result
}

// IP returns the offset of the next instruction.
func (vm *VM) IP() int {
	return vm.ip
}

// StackDepth returns the number of values on the operand stack.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// StackSize returns the operand stack capacity.
func (vm *VM) StackSize() int {
	return len(vm.stack)
}

// Peek returns the value distance slots below the top (0 is the top).
func (vm *VM) Peek(distance int) (Value, bool) {
	if distance < 0 || distance >= vm.sp {
		return 0, false
	}
	return vm.stack[vm.sp-1-distance], true
}

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []Value {
	out := make([]Value, vm.sp)
	copy(out, vm.stack[:vm.sp])
	return out
}
