package bytecode

import "fmt"

// Opcode identifies the operation an instruction performs.
type Opcode byte

const (
	// ========================================================================
	// Constants
	// ========================================================================

	OpConstant     Opcode = 0x00 // Push constant: OpConstant <index:u8>
	OpConstantLong Opcode = 0x01 // Push constant: OpConstantLong <index:u24 little-endian>

	// ========================================================================
	// Arithmetic
	// ========================================================================

	OpAdd      Opcode = 0x02 // Pop two, push a + b
	OpSubtract Opcode = 0x03 // Pop two, push a - b (b is TOS)
	OpMultiply Opcode = 0x04 // Pop two, push a * b
	OpDivide   Opcode = 0x05 // Pop two, push a / b
	OpNegate   Opcode = 0x06 // Negate TOS in place

	// ========================================================================
	// Return
	// ========================================================================

	OpReturn Opcode = 0x07 // Pop TOS and halt with it as the result
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Name as printed by the disassembler
	StackPop   int    // How many values popped from stack
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConstant:     {"OP_CONSTANT", 0, 1, 1},
	OpConstantLong: {"OP_CONSTANT_LONG", 0, 1, 3},

	OpAdd:      {"OP_ADD", 2, 1, 0},
	OpSubtract: {"OP_SUBTRACT", 2, 1, 0},
	OpMultiply: {"OP_MULTIPLY", 2, 1, 0},
	OpDivide:   {"OP_DIVIDE", 2, 1, 0},
	// NEGATE rewrites the top slot; it neither pops nor pushes.
	OpNegate: {"OP_NEGATE", 0, 0, 0},

	OpReturn: {"OP_RETURN", 1, 0, 0},
}

// LookupOpcode returns the metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
// Unknown opcodes have length 1 so decoders can resynchronize.
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsConstant returns true if this opcode loads from the constant pool.
func (op Opcode) IsConstant() bool {
	return op == OpConstant || op == OpConstantLong
}

// IsBinary returns true if this opcode pops two operands and pushes one.
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpDivide
}

// AllOpcodes returns every defined opcode in encoding order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := OpConstant; op <= OpReturn; op++ {
		if op.Valid() {
			opcodes = append(opcodes, op)
		}
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
