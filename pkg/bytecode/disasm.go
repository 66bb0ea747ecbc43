package bytecode

import (
	"fmt"
	"io"
	"iter"
	"strings"
)

// Disassemble returns a listing of the whole chunk under a "== name =="
// header, one instruction per line.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	// strings.Builder never returns a write error.
	_ = c.DisassembleTo(&sb, name)
	return sb.String()
}

// DisassembleTo writes the listing produced by Disassemble to w.
func (c *Chunk) DisassembleTo(w io.Writer, name string) error {
	if _, err := fmt.Fprintf(w, "== %s ==\n", name); err != nil {
		return err
	}
	for line := range c.Disassembly() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Disassembly yields one rendered line per instruction, advancing by
// each instruction's encoded width.
func (c *Chunk) Disassembly() iter.Seq[string] {
	return func(yield func(string) bool) {
		for offset := 0; offset < len(c.code); {
			line, next := c.DisassembleInstruction(offset)
			if !yield(line) {
				return
			}
			offset = next
		}
	}
}

// DisassembleInstruction renders the instruction at offset and returns
// it with the offset of the following instruction.
//
// Malformed bytecode never fails here: unknown opcodes are reported and
// skipped one byte at a time, and truncated operands or bad constant
// indices are rendered as warnings.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	if offset < 0 || offset >= len(c.code) {
		return fmt.Sprintf("%04d <end of code>", offset), len(c.code)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)
	sb.WriteString(c.lineColumn(offset))

	op := Opcode(c.code[offset])
	info, ok := LookupOpcode(op)
	if !ok {
		fmt.Fprintf(&sb, "Unknown opcode %d", byte(op))
		return sb.String(), offset + 1
	}

	if !op.IsConstant() {
		sb.WriteString(info.Name)
		return sb.String(), offset + 1
	}

	idx, width, ok := c.readConstantIndex(offset)
	if !ok {
		fmt.Fprintf(&sb, "%-16s <truncated>", info.Name)
		return sb.String(), len(c.code)
	}
	if v, ok := c.constants.At(idx); ok {
		fmt.Fprintf(&sb, "%-16s %4d '%s'", info.Name, idx, v)
	} else {
		fmt.Fprintf(&sb, "%-16s %4d <bad constant>", info.Name, idx)
	}
	return sb.String(), offset + width
}

// lineColumn renders the line field: the line number, or a pipe when the
// byte shares its line with the previous one.
func (c *Chunk) lineColumn(offset int) string {
	line, err := c.lines.Lookup(offset)
	if err != nil {
		return "   ? "
	}
	if offset > 0 {
		if prev, err := c.lines.Lookup(offset - 1); err == nil && prev == line {
			return "   | "
		}
	}
	return fmt.Sprintf("%4d ", line)
}

// InstructionCount returns the number of instructions in the chunk.
// Note: This iterates through all code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	count := 0
	for offset := 0; offset < len(c.code); {
		offset += Opcode(c.code[offset]).InstructionLen()
		count++
	}
	return count
}
