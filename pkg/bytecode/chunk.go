package bytecode

// Chunk is a compiled unit of bytecode: instruction bytes, the
// run-length line table describing them, and the constant pool they
// reference.
//
// A chunk is written by a single producer and then only read. It must
// not be mutated while a VM is executing it.
type Chunk struct {
	code      []byte
	lines     LineTable
	constants ConstantPool
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{}
}

// Write appends a single byte that came from source line line.
func (c *Chunk) Write(b byte, line int) {
	c.code = grow(c.code, 1)
	c.code = append(c.code, b)
	c.lines.add(line)
}

// WriteOp appends a single-byte opcode.
func (c *Chunk) WriteOp(op Opcode, line int) int {
	offset := len(c.code)
	c.Write(byte(op), line)
	return offset
}

// AddConstant adds a value to the pool and returns its index.
func (c *Chunk) AddConstant(v Value) int {
	return c.constants.Append(v)
}

// WriteConstant adds v to the pool and emits the instruction that loads
// it: OpConstant with a one-byte index when the index fits in a byte,
// OpConstantLong with a three-byte little-endian index otherwise.
// A full pool leaves the chunk unchanged.
func (c *Chunk) WriteConstant(v Value, line int) error {
	if c.constants.Len() > MaxConstantIndex {
		return ErrTooManyConstants
	}
	idx := c.AddConstant(v)
	if idx > 255 {
		return c.writeConstantLong(idx, line)
	}
	c.WriteOp(OpConstant, line)
	c.Write(byte(idx), line)
	return nil
}

// WriteConstantLong is WriteConstant that always uses the long form.
func (c *Chunk) WriteConstantLong(v Value, line int) error {
	if c.constants.Len() > MaxConstantIndex {
		return ErrTooManyConstants
	}
	return c.writeConstantLong(c.AddConstant(v), line)
}

func (c *Chunk) writeConstantLong(idx, line int) error {
	if idx > MaxConstantIndex {
		return ErrTooManyConstants
	}
	c.WriteOp(OpConstantLong, line)
	c.Write(byte(idx), line)
	c.Write(byte(idx>>8), line)
	c.Write(byte(idx>>16), line)
	return nil
}

// Line returns the source line of the byte at offset.
func (c *Chunk) Line(offset int) (int, error) {
	if offset >= len(c.code) {
		return 0, ErrLineOutOfRange
	}
	return c.lines.Lookup(offset)
}

// Free releases every buffer and returns the chunk to its empty state.
func (c *Chunk) Free() {
	c.code = nil
	c.lines.free()
	c.constants.free()
}

// Code returns the instruction bytes. The slice must not be modified.
func (c *Chunk) Code() []byte {
	return c.code
}

// Len returns the number of instruction bytes written.
func (c *Chunk) Len() int {
	return len(c.code)
}

// Cap returns the capacity of the instruction buffer.
func (c *Chunk) Cap() int {
	return cap(c.code)
}

// Lines returns the run-length line table.
func (c *Chunk) Lines() []LineRun {
	return c.lines.Runs()
}

// Constants returns the constant pool.
func (c *Chunk) Constants() *ConstantPool {
	return &c.constants
}

// Constant returns the constant at index i and whether it exists.
func (c *Chunk) Constant(i int) (Value, bool) {
	return c.constants.At(i)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return c.constants.Len()
}

// readConstantIndex decodes the operand of the constant-load instruction
// at offset. ok is false when the operand runs past the end of the code.
func (c *Chunk) readConstantIndex(offset int) (idx int, width int, ok bool) {
	switch Opcode(c.code[offset]) {
	case OpConstant:
		if offset+1 >= len(c.code) {
			return 0, 2, false
		}
		return int(c.code[offset+1]), 2, true
	case OpConstantLong:
		if offset+3 >= len(c.code) {
			return 0, 4, false
		}
		idx = int(c.code[offset+1]) |
			int(c.code[offset+2])<<8 |
			int(c.code[offset+3])<<16
		return idx, 4, true
	}
	return 0, 1, false
}

// DemoChunk builds the chunk the original driver program disassembled:
// 300 constants 0..299, the i-th on line i/10, followed by a return on
// line 300. Indices past 255 use the long form.
func DemoChunk() *Chunk {
	c := NewChunk()
	for i := 0; i < 300; i++ {
		// 300 constants never exceed MaxConstantIndex.
		_ = c.WriteConstant(Value(i), i/10)
	}
	c.WriteOp(OpReturn, 300)
	return c
}
