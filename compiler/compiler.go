// Package compiler assembles textual instruction listings into bytecode
// chunks. It is the compile hook used by the clox command and server.
//
// A listing has one instruction per line:
//
//	; -(1.2 + 3.4)
//	CONSTANT 1.2
//	CONSTANT 3.4
//	ADD
//	NEGATE
//	RETURN
//
// Mnemonics are case-insensitive and may carry the OP_ prefix. Two
// directives are understood: ".line N" sets the source line recorded for
// the following instructions, and ".byte N" emits a raw byte.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/clox/pkg/bytecode"
)

var log = commonlog.GetLogger("clox.compiler")

// SyntaxError is a single problem found while assembling.
type SyntaxError struct {
	Pos Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Assembler turns a listing into a chunk, collecting every error it finds
// instead of stopping at the first.
type Assembler struct {
	lexer   *Lexer
	tok     Token
	chunk   *bytecode.Chunk
	line    int  // line override from .line, valid when lineSet
	lineSet bool
	errors  []*SyntaxError
}

// NewAssembler creates an assembler for source.
func NewAssembler(source string) *Assembler {
	a := &Assembler{
		lexer: NewLexer(source),
		chunk: bytecode.NewChunk(),
	}
	a.next()
	return a
}

// Errors returns accumulated assembly errors.
func (a *Assembler) Errors() []*SyntaxError {
	return a.errors
}

// Assemble reads the whole listing and returns the chunk built so far.
// Check Errors before using it.
func (a *Assembler) Assemble() *bytecode.Chunk {
	for a.tok.Type != TokenEOF {
		a.statement()
	}
	return a.chunk
}

// Compile assembles source into a chunk. It satisfies bytecode.CompileFunc.
func Compile(source string) (*bytecode.Chunk, error) {
	a := NewAssembler(source)
	chunk := a.Assemble()
	if errs := a.Errors(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("assembly errors: %w", errors.Join(joined...))
	}
	log.Debugf("assembled %d bytes, %d constants", chunk.Len(), chunk.ConstantCount())
	return chunk, nil
}

var _ bytecode.CompileFunc = Compile

// mnemonics maps instruction names, without the OP_ prefix, to opcodes.
var mnemonics = map[string]bytecode.Opcode{
	"CONSTANT":      bytecode.OpConstant,
	"CONSTANT_LONG": bytecode.OpConstantLong,
	"ADD":           bytecode.OpAdd,
	"SUBTRACT":      bytecode.OpSubtract,
	"MULTIPLY":      bytecode.OpMultiply,
	"DIVIDE":        bytecode.OpDivide,
	"NEGATE":        bytecode.OpNegate,
	"RETURN":        bytecode.OpReturn,
}

func (a *Assembler) next() {
	a.tok = a.lexer.NextToken()
}

func (a *Assembler) errorf(pos Position, format string, args ...any) {
	a.errors = append(a.errors, &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// sourceLine is the line recorded for an instruction starting at tok.
func (a *Assembler) sourceLine(tok Token) int {
	if a.lineSet {
		return a.line
	}
	return tok.Pos.Line
}

// statement assembles one line, always consuming through its newline.
func (a *Assembler) statement() {
	tok := a.tok
	switch tok.Type {
	case TokenNewline:
		a.next()
		return
	case TokenIdentifier:
		a.next()
		a.instruction(tok)
	case TokenDirective:
		a.next()
		a.directive(tok)
	case TokenError:
		a.next()
		a.errorf(tok.Pos, "%s", tok.Literal)
	default:
		a.next()
		a.errorf(tok.Pos, "expected instruction, got %s", tok)
	}
	a.endOfLine()
}

// endOfLine reports anything left on the line and skips past it.
func (a *Assembler) endOfLine() {
	if a.tok.Type != TokenNewline && a.tok.Type != TokenEOF {
		a.errorf(a.tok.Pos, "unexpected %s at end of line", a.tok)
		for a.tok.Type != TokenNewline && a.tok.Type != TokenEOF {
			a.next()
		}
	}
	if a.tok.Type == TokenNewline {
		a.next()
	}
}

func (a *Assembler) instruction(name Token) {
	mnemonic := strings.TrimPrefix(strings.ToUpper(name.Literal), "OP_")
	op, ok := mnemonics[mnemonic]
	if !ok {
		a.errorf(name.Pos, "unknown instruction %q", name.Literal)
		return
	}
	line := a.sourceLine(name)

	if !op.IsConstant() {
		a.chunk.WriteOp(op, line)
		return
	}

	v, ok := a.number(name)
	if !ok {
		return
	}
	var err error
	if op == bytecode.OpConstantLong {
		err = a.chunk.WriteConstantLong(bytecode.Value(v), line)
	} else {
		err = a.chunk.WriteConstant(bytecode.Value(v), line)
	}
	if err != nil {
		a.errorf(name.Pos, "%v", err)
	}
}

func (a *Assembler) directive(name Token) {
	switch strings.ToLower(name.Literal) {
	case "line":
		n, ok := a.integer(name, 0, int64(^uint(0)>>1))
		if ok {
			a.line = int(n)
			a.lineSet = true
		}
	case "byte":
		n, ok := a.integer(name, 0, 255)
		if ok {
			a.chunk.Write(byte(n), a.sourceLine(name))
		}
	default:
		a.errorf(name.Pos, "unknown directive .%s", name.Literal)
	}
}

// number consumes a numeric operand for the instruction at owner.
func (a *Assembler) number(owner Token) (float64, bool) {
	tok := a.tok
	if tok.Type != TokenNumber {
		a.errorf(owner.Pos, "%s needs a numeric operand", owner.Literal)
		return 0, false
	}
	a.next()
	v, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		a.errorf(tok.Pos, "invalid number %q", tok.Literal)
		return 0, false
	}
	return v, true
}

// integer consumes an integer operand in [lo, hi] for the directive at owner.
func (a *Assembler) integer(owner Token, lo, hi int64) (int64, bool) {
	tok := a.tok
	if tok.Type != TokenNumber {
		a.errorf(owner.Pos, ".%s needs an integer operand", owner.Literal)
		return 0, false
	}
	a.next()
	n, err := strconv.ParseInt(tok.Literal, 0, 64)
	if err != nil {
		a.errorf(tok.Pos, "invalid integer %q", tok.Literal)
		return 0, false
	}
	if n < lo || n > hi {
		a.errorf(tok.Pos, "%d out of range [%d, %d]", n, lo, hi)
		return 0, false
	}
	return n, true
}
