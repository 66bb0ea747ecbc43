// clox CLI - assembles, disassembles and runs bytecode chunks
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/clox/compiler"
	"github.com/chazu/clox/manifest"
	"github.com/chazu/clox/pkg/bytecode"
	"github.com/chazu/clox/server"
	"github.com/chazu/clox/store"
)

// Exit codes, following sysexits.h.
const (
	exitOK       = 0
	exitUsage    = 64
	exitDataErr  = 65 // compile error or bad image
	exitSoftware = 70 // runtime error
	exitIOErr    = 74
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds parsed command-line flags.
type options struct {
	config      string
	disassemble bool
	trace       bool
	imageOut    string
	imageIn     string
	save        string
	runStored   string
	list        bool
	deleteName  string
	serve       bool
	port        int
	verbosity   int
	demo        bool
	interactive bool
	paths       []string

	set map[string]bool // flags given explicitly
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("clox", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{set: map[string]bool{}}
	fs.StringVar(&o.config, "config", "", "Path to a clox.toml (default: search upward from the working directory)")
	fs.BoolVar(&o.disassemble, "d", false, "Print the disassembly before running")
	fs.BoolVar(&o.trace, "trace", false, "Trace the stack and each instruction to stderr")
	fs.StringVar(&o.imageOut, "image", "", "Write the assembled chunk as a binary image to this file")
	fs.StringVar(&o.imageIn, "load", "", "Run a binary image instead of assembling source")
	fs.StringVar(&o.save, "save", "", "Save the assembled chunk in the store under this name")
	fs.StringVar(&o.runStored, "run-stored", "", "Run the chunk saved under this name")
	fs.BoolVar(&o.list, "list", false, "List chunks in the store")
	fs.StringVar(&o.deleteName, "delete", "", "Delete the chunk saved under this name")
	fs.BoolVar(&o.serve, "serve", false, "Start the VM service (gRPC + Connect HTTP/JSON)")
	fs.IntVar(&o.port, "port", 0, "VM service port (used with -serve, overrides [server] addr)")
	fs.IntVar(&o.verbosity, "v", 0, "Log verbosity (-4 silent .. 2 debug)")
	fs.BoolVar(&o.demo, "demo", false, "Disassemble the built-in demo chunk")
	fs.BoolVar(&o.interactive, "i", false, "Start interactive REPL")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clox [options] [file.asm ...]\n\n")
		fmt.Fprintf(stderr, "Assembles each file and runs it on the bytecode VM. With no files, starts the REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  clox add.asm                   # Assemble and run\n")
		fmt.Fprintf(stderr, "  clox -d add.asm                # Show the listing, then run\n")
		fmt.Fprintf(stderr, "  clox -image add.clxb add.asm   # Also write a binary image\n")
		fmt.Fprintf(stderr, "  clox -load add.clxb            # Run a binary image\n")
		fmt.Fprintf(stderr, "  clox -save add add.asm         # Store the chunk as 'add'\n")
		fmt.Fprintf(stderr, "  clox -run-stored add           # Run a stored chunk\n")
		fmt.Fprintf(stderr, "  clox -demo                     # Disassemble the demo chunk\n")
		fmt.Fprintf(stderr, "\nVM Service:\n")
		fmt.Fprintf(stderr, "  clox -serve                    # Serve on [server] addr (default :4567)\n")
		fmt.Fprintf(stderr, "  clox -serve -port 8080         # Serve on :8080\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	o.paths = fs.Args()
	return o, nil
}

// loadConfig reads -config, or searches upward for clox.toml, or falls
// back to defaults.
func loadConfig(o *options) (*manifest.Manifest, error) {
	if o.config != "" {
		return manifest.LoadFile(o.config)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	verbosity := cfg.Log.Verbosity
	if o.set["v"] {
		verbosity = o.verbosity
	}
	commonlog.Configure(verbosity, cfg.LogFile())
	log := commonlog.GetLogger("clox")
	if cfg.Dir != "" {
		log.Debugf("using configuration in %s", cfg.Dir)
	}

	if o.set["trace"] {
		cfg.VM.Trace = o.trace
	}

	a := &app{
		opts:   o,
		cfg:    cfg,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	defer a.close()

	switch {
	case o.demo:
		return a.runDemo()
	case o.serve:
		return a.runServer()
	case o.list:
		return a.runList()
	case o.deleteName != "":
		return a.runDelete(o.deleteName)
	case o.runStored != "":
		return a.runStoredChunk(o.runStored)
	case o.imageIn != "":
		return a.runImage(o.imageIn)
	case o.interactive || len(o.paths) == 0:
		return a.runREPL()
	}

	for _, path := range o.paths {
		if code := a.runFile(path); code != exitOK {
			return code
		}
	}
	return exitOK
}

// app carries configuration and lazily opened resources for one invocation.
type app struct {
	opts   *options
	cfg    *manifest.Manifest
	store  *store.Store
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) openStore() (*store.Store, error) {
	if a.store == nil {
		st, err := store.Open(a.cfg.StorePath())
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	return a.store, nil
}

func (a *app) newVM() *bytecode.VM {
	opts := []bytecode.VMOption{bytecode.WithStackSize(a.cfg.VM.StackSize)}
	if a.cfg.VM.Trace {
		opts = append(opts, bytecode.WithTrace(a.stderr))
	}
	return bytecode.NewVM(opts...)
}

// exitCode reports err and maps it to a process exit code.
func (a *app) exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	switch {
	case errors.Is(err, bytecode.ErrCorruptImage), errors.Is(err, store.ErrHashMismatch):
		return exitDataErr
	case errors.Is(err, store.ErrChunkNotFound):
		return exitUsage
	}
	if bytecode.ResultOf(err) == bytecode.InterpretRuntimeError {
		return exitSoftware
	}
	return exitDataErr
}

func (a *app) runDemo() int {
	if err := bytecode.DemoChunk().DisassembleTo(a.stdout, "test chunk"); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	return exitOK
}

func (a *app) runFile(path string) int {
	source, err := readSource(path, a.stdin)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}

	chunk, err := compiler.Compile(string(source))
	if err != nil {
		return a.exitCode(err)
	}

	if a.opts.imageOut != "" {
		data, err := chunk.MarshalImage()
		if err != nil {
			return a.exitCode(err)
		}
		if err := os.WriteFile(a.opts.imageOut, data, 0o644); err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitIOErr
		}
	}

	if a.opts.save != "" {
		st, err := a.openStore()
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitIOErr
		}
		entry, err := st.Save(a.opts.save, chunk)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitIOErr
		}
		fmt.Fprintf(a.stdout, "saved %s (%s)\n", entry.Name, shortHash(entry.Hash))
		return exitOK
	}

	return a.execute(chunk, chunkName(path))
}

func (a *app) runImage(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	chunk, err := bytecode.UnmarshalImage(data)
	if err != nil {
		return a.exitCode(err)
	}
	return a.execute(chunk, chunkName(path))
}

func (a *app) runStoredChunk(name string) int {
	st, err := a.openStore()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	chunk, err := st.Load(name)
	if err != nil {
		return a.exitCode(err)
	}
	return a.execute(chunk, name)
}

func (a *app) runList() int {
	st, err := a.openStore()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	entries, err := st.List()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	for _, e := range entries {
		fmt.Fprintf(a.stdout, "%-20s %6d  %s  %s\n",
			e.Name, e.Size, shortHash(e.Hash), e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return exitOK
}

// shortHash abbreviates a content hash for display. Rows edited by hand
// may hold fewer characters.
func shortHash(h string) string {
	return h[:min(12, len(h))]
}

func (a *app) runDelete(name string) int {
	st, err := a.openStore()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitIOErr
	}
	return a.exitCode(st.Delete(name))
}

func (a *app) runServer() int {
	addr := a.cfg.Server.Addr
	if a.opts.port != 0 {
		addr = fmt.Sprintf(":%d", a.opts.port)
	}

	opts := []server.ServerOption{server.WithStackSize(a.cfg.VM.StackSize)}
	st, err := a.openStore()
	if err != nil {
		fmt.Fprintf(a.stderr, "Warning: chunk store unavailable: %v\n", err)
	} else {
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(a.stderr, "Server error: %v\n", err)
		return exitIOErr
	}
	return exitOK
}

// execute runs chunk, printing its listing first when -d is set.
func (a *app) execute(chunk *bytecode.Chunk, name string) int {
	if a.opts.disassemble {
		if err := chunk.DisassembleTo(a.stdout, name); err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitIOErr
		}
	}
	v, err := a.newVM().Execute(chunk)
	if err != nil {
		return a.exitCode(err)
	}
	fmt.Fprintln(a.stdout, v)
	return exitOK
}

// readSource reads path, or stdin when path is "-".
func readSource(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func chunkName(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
