// Package bytecode provides the bytecode container and the stack-based
// virtual machine that executes it.
//
// # Chunks
//
// A Chunk holds three growable buffers: the instruction bytes, a
// run-length-encoded table mapping each byte to the source line that
// produced it, and a constant pool. Chunks are append-only while being
// built and read-only afterwards.
//
// Instructions are one opcode byte followed by zero or more operand
// bytes. Constant loads come in two widths:
//
//	OP_CONSTANT      <index:u8>
//	OP_CONSTANT_LONG <index:u24, least-significant byte first>
//
// WriteConstant picks the short form for indices 0..255 and the long form
// above that, which bounds a chunk to 1<<24 constants.
//
// # Line table
//
// Lines are stored as (count, line) runs. Writing a byte on the same line
// as the previous byte extends the last run. Looking up an offset walks
// the runs, subtracting each count until the offset falls inside one.
// Appends are O(1) and lookups are O(runs).
//
// # Disassembler
//
// Disassembly is read-only and never fails on malformed input. Each line
// has the form
//
//	OFFSET LINE OPCODE [INDEX 'VALUE']
//
// with a "   |" line field when the line repeats the previous byte's.
//
// # Virtual machine
//
// A VM is an explicit instance owning its operand stack and instruction
// pointer. It moves through the states Ready, Running, and then either
// Halted (after OP_RETURN) or Fatal (after an error). Stack overflow,
// stack underflow, running past the end of the code and unknown opcodes
// are all fatal and reported as a *RuntimeError wrapping an Errno.
package bytecode
