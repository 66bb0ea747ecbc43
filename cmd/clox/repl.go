package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/chazu/clox/compiler"
	"github.com/chazu/clox/pkg/bytecode"
)

// runREPL reads instructions line by line. Input runs when a RETURN line
// is entered or on an empty line.
func (a *app) runREPL() int {
	fmt.Fprintln(a.stdout, "clox REPL (type 'exit' to quit, ':help' for commands)")
	fmt.Fprintln(a.stdout)

	vm := a.newVM()
	var last *bytecode.Chunk

	scanner := bufio.NewScanner(a.stdin)
	lineBuffer := strings.Builder{}

	for {
		// Show prompt
		if lineBuffer.Len() == 0 {
			fmt.Fprint(a.stdout, ">> ")
		} else {
			fmt.Fprint(a.stdout, ".. ")
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		// Handle exit
		if lineBuffer.Len() == 0 && (trimmed == "exit" || trimmed == "quit") {
			break
		}

		// Handle REPL commands (start with ':')
		if lineBuffer.Len() == 0 && strings.HasPrefix(trimmed, ":") {
			a.handleREPLCommand(vm, last, trimmed)
			continue
		}

		if trimmed == "" {
			if lineBuffer.Len() > 0 {
				last = a.evalAndPrint(vm, lineBuffer.String())
				lineBuffer.Reset()
			}
			continue
		}

		lineBuffer.WriteString(line)
		lineBuffer.WriteByte('\n')

		if isReturn(trimmed) {
			last = a.evalAndPrint(vm, lineBuffer.String())
			lineBuffer.Reset()
		}
	}

	fmt.Fprintln(a.stdout)
	return exitOK
}

// isReturn reports whether line is a RETURN instruction.
func isReturn(line string) bool {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(line)), "OP_")
	return name == "RETURN"
}

// evalAndPrint assembles and runs input, printing the result or error.
// It returns the assembled chunk, or nil if assembly failed.
func (a *app) evalAndPrint(vm *bytecode.VM, input string) *bytecode.Chunk {
	chunk, err := compiler.Compile(input)
	if err != nil {
		fmt.Fprintf(a.stdout, "Compile error: %v\n", err)
		return nil
	}
	v, err := vm.Execute(chunk)
	if err != nil {
		fmt.Fprintf(a.stdout, "Runtime error: %v\n", err)
		return chunk
	}
	fmt.Fprintf(a.stdout, "%s\n", v)
	return chunk
}

func (a *app) handleREPLCommand(vm *bytecode.VM, last *bytecode.Chunk, cmd string) {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":help":
		fmt.Fprintln(a.stdout, "Enter one instruction per line; RETURN or an empty line runs the input.")
		fmt.Fprintln(a.stdout, "  :dis         Disassemble the last chunk")
		fmt.Fprintln(a.stdout, "  :trace on    Trace execution to stderr")
		fmt.Fprintln(a.stdout, "  :trace off   Stop tracing")
		fmt.Fprintln(a.stdout, "  :stack       Show the stack left by the last run")
		fmt.Fprintln(a.stdout, "  :save NAME   Save the last chunk in the store")
		fmt.Fprintln(a.stdout, "  :run NAME    Run a stored chunk")
		fmt.Fprintln(a.stdout, "  exit         Quit")

	case ":dis":
		if last == nil {
			fmt.Fprintln(a.stdout, "no chunk yet")
			return
		}
		last.DisassembleTo(a.stdout, "repl")

	case ":trace":
		if len(fields) == 2 && fields[1] == "off" {
			vm.SetTrace(nil)
		} else {
			vm.SetTrace(a.stderr)
		}

	case ":stack":
		fmt.Fprintf(a.stdout, "%s %v\n", vm.State(), vm.Stack())

	case ":save":
		if len(fields) != 2 || last == nil {
			fmt.Fprintln(a.stdout, "usage: :save NAME (after running a chunk)")
			return
		}
		st, err := a.openStore()
		if err != nil {
			fmt.Fprintf(a.stdout, "Error: %v\n", err)
			return
		}
		entry, err := st.Save(fields[1], last)
		if err != nil {
			fmt.Fprintf(a.stdout, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(a.stdout, "saved %s (%s)\n", entry.Name, shortHash(entry.Hash))

	case ":run":
		if len(fields) != 2 {
			fmt.Fprintln(a.stdout, "usage: :run NAME")
			return
		}
		st, err := a.openStore()
		if err != nil {
			fmt.Fprintf(a.stdout, "Error: %v\n", err)
			return
		}
		chunk, err := st.Load(fields[1])
		if err != nil {
			fmt.Fprintf(a.stdout, "Error: %v\n", err)
			return
		}
		v, err := vm.Execute(chunk)
		if err != nil {
			fmt.Fprintf(a.stdout, "Runtime error: %v\n", err)
			return
		}
		fmt.Fprintf(a.stdout, "%s\n", v)

	default:
		fmt.Fprintf(a.stdout, "unknown command %s (try :help)\n", fields[0])
	}
}
