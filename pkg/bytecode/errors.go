package bytecode

import (
	"fmt"
	"strings"
)

// Errno describes the reason the VM, or a chunk lookup, gave up.
// Each Errno is itself an error, so callers can match with errors.Is.
type Errno int

// Error kinds.
const (
	ErrUnknownOpcode Errno = iota + 1
	ErrStackOverflow
	ErrStackUnderflow
	ErrCodeOverrun
	ErrConstantRange
	ErrLineOutOfRange
	ErrTooManyConstants
	ErrNotLoaded
	ErrHalted
	ErrCorruptImage
)

var strError = map[Errno]string{
	ErrUnknownOpcode:    "unknown opcode",
	ErrStackOverflow:    "stack overflow",
	ErrStackUnderflow:   "stack underflow",
	ErrCodeOverrun:      "instruction pointer past end of code",
	ErrConstantRange:    "constant index out of range",
	ErrLineOutOfRange:   "offset outside line table",
	ErrTooManyConstants: "too many constants in one chunk",
	ErrNotLoaded:        "no chunk loaded",
	ErrHalted:           "vm already halted",
	ErrCorruptImage:     "corrupt chunk image",
}

func (e Errno) Error() string {
	if s, ok := strError[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// RuntimeError describes the cause and the context of a fatal VM stop.
type RuntimeError struct {
	Errno  Errno   // nature of the failure
	Offset int     // offset of the instruction that failed
	Line   int     // source line of that instruction, 0 if unknown
	Op     Opcode  // the opcode byte that was being executed
	Stack  []Value // operand stack at the time of failure
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&sb, "[line %d] ", e.Line)
	}
	sb.WriteString(e.Errno.Error())
	if e.Errno == ErrUnknownOpcode {
		fmt.Fprintf(&sb, " %d", byte(e.Op))
	}
	fmt.Fprintf(&sb, " at offset %04d", e.Offset)
	return sb.String()
}

// Unwrap exposes the Errno.
func (e *RuntimeError) Unwrap() error {
	return e.Errno
}
