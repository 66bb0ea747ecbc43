package bytecode

import (
	"fmt"
	"strings"
)

// traceInstruction writes the current stack followed by the instruction
// about to execute.
func (vm *VM) traceInstruction() {
	var sb strings.Builder
	sb.WriteString("          ")
	for _, v := range vm.stack[:vm.sp] {
		fmt.Fprintf(&sb, "[ %s ]", v)
	}
	sb.WriteByte('\n')
	if vm.ip < len(vm.chunk.code) {
		line, _ := vm.chunk.DisassembleInstruction(vm.ip)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	_, _ = vm.trace.Write([]byte(sb.String()))
}
