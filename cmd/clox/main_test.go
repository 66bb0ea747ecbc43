package main

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// testConfig writes a clox.toml whose store lives in a temp dir and
// returns its path.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clox.toml")
	content := "[store]\npath = \"chunks.db\"\n\n[log]\nverbosity = -4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSource(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

const addSource = "; 2 + 3\nCONSTANT 2\nCONSTANT 3\nADD\nRETURN\n"

func TestRunFile(t *testing.T) {
	cfg := testConfig(t)
	src := writeSource(t, "add.asm", addSource)

	r := runCLI(t, "", "-config", cfg, src)
	if r.code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", r.code, r.stderr)
	}
	if r.stdout != "5\n" {
		t.Errorf("stdout = %q, want 5", r.stdout)
	}
}

func TestRunStdin(t *testing.T) {
	r := runCLI(t, "CONSTANT 1.5\nNEGATE\nRETURN\n", "-config", testConfig(t), "-")
	if r.code != exitOK || r.stdout != "-1.5\n" {
		t.Errorf("got code %d stdout %q, want 0 and -1.5", r.code, r.stdout)
	}
}

func TestDisassembleFlag(t *testing.T) {
	src := writeSource(t, "add.asm", addSource)

	r := runCLI(t, "", "-config", testConfig(t), "-d", src)
	if r.code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", r.code, r.stderr)
	}
	want := strings.Join([]string{
		"== add ==",
		"0000    2 OP_CONSTANT         0 '2'",
		"0002    3 OP_CONSTANT         1 '3'",
		"0004    4 OP_ADD",
		"0005    5 OP_RETURN",
		"5",
		"",
	}, "\n")
	if r.stdout != want {
		t.Errorf("stdout =\n%s\nwant:\n%s", r.stdout, want)
	}
}

func TestTraceFlag(t *testing.T) {
	src := writeSource(t, "neg.asm", "CONSTANT 4\nNEGATE\nRETURN\n")

	r := runCLI(t, "", "-config", testConfig(t), "-trace", src)
	if r.code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stderr, "          [ 4 ]\n0002    2 OP_NEGATE\n") {
		t.Errorf("trace missing from stderr:\n%s", r.stderr)
	}
}

func TestExitCodes(t *testing.T) {
	cfg := testConfig(t)
	tests := []struct {
		name   string
		source string
		code   int
	}{
		{"compile error", "PUSH 1\n", exitDataErr},
		{"runtime error", "ADD\nRETURN\n", exitSoftware},
		{"unknown opcode", ".byte 99\n", exitSoftware},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := writeSource(t, "prog.asm", tc.source)
			r := runCLI(t, "", "-config", cfg, src)
			if r.code != tc.code {
				t.Errorf("exit code = %d, want %d (stderr %q)", r.code, tc.code, r.stderr)
			}
			if !strings.HasPrefix(r.stderr, "Error: ") {
				t.Errorf("stderr = %q, want an error", r.stderr)
			}
		})
	}

	if r := runCLI(t, "", "-config", cfg, filepath.Join(t.TempDir(), "missing.asm")); r.code != exitIOErr {
		t.Errorf("missing file exit code = %d, want %d", r.code, exitIOErr)
	}
	if r := runCLI(t, "", "-no-such-flag"); r.code != exitUsage {
		t.Errorf("bad flag exit code = %d, want %d", r.code, exitUsage)
	}
}

func TestImageRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	src := writeSource(t, "add.asm", addSource)
	image := filepath.Join(t.TempDir(), "add.clxb")

	if r := runCLI(t, "", "-config", cfg, "-image", image, src); r.code != exitOK {
		t.Fatalf("write image: code %d, stderr %s", r.code, r.stderr)
	}
	r := runCLI(t, "", "-config", cfg, "-load", image)
	if r.code != exitOK || r.stdout != "5\n" {
		t.Errorf("load image: code %d stdout %q stderr %q", r.code, r.stdout, r.stderr)
	}

	bad := writeSource(t, "bad.clxb", "not an image")
	if r := runCLI(t, "", "-config", cfg, "-load", bad); r.code != exitDataErr {
		t.Errorf("corrupt image exit code = %d, want %d", r.code, exitDataErr)
	}
}

func TestStoreCommands(t *testing.T) {
	cfg := testConfig(t)
	src := writeSource(t, "add.asm", addSource)

	r := runCLI(t, "", "-config", cfg, "-save", "add", src)
	if r.code != exitOK || !strings.HasPrefix(r.stdout, "saved add (") {
		t.Fatalf("save: code %d stdout %q stderr %q", r.code, r.stdout, r.stderr)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg), "chunks.db")); err != nil {
		t.Errorf("store not created next to config: %v", err)
	}

	r = runCLI(t, "", "-config", cfg, "-run-stored", "add")
	if r.code != exitOK || r.stdout != "5\n" {
		t.Errorf("run-stored: code %d stdout %q stderr %q", r.code, r.stdout, r.stderr)
	}

	r = runCLI(t, "", "-config", cfg, "-list")
	if r.code != exitOK || !strings.HasPrefix(r.stdout, "add ") {
		t.Errorf("list: code %d stdout %q", r.code, r.stdout)
	}

	if r := runCLI(t, "", "-config", cfg, "-delete", "add"); r.code != exitOK {
		t.Errorf("delete: code %d stderr %q", r.code, r.stderr)
	}
	if r := runCLI(t, "", "-config", cfg, "-run-stored", "add"); r.code != exitUsage {
		t.Errorf("run-stored after delete: code %d, want %d", r.code, exitUsage)
	}
}

func TestListShortHash(t *testing.T) {
	cfg := testConfig(t)
	src := writeSource(t, "add.asm", addSource)
	if r := runCLI(t, "", "-config", cfg, "-save", "add", src); r.code != exitOK {
		t.Fatalf("save: code %d stderr %q", r.code, r.stderr)
	}

	db, err := sql.Open("sqlite", filepath.Join(filepath.Dir(cfg), "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE chunks SET hash = 'abc' WHERE name = 'add'`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	r := runCLI(t, "", "-config", cfg, "-list")
	if r.code != exitOK || !strings.Contains(r.stdout, "  abc  ") {
		t.Errorf("list: code %d stdout %q stderr %q", r.code, r.stdout, r.stderr)
	}
}

func TestShortHash(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "abc"},
		{"0123456789abcdef", "0123456789ab"},
	}
	for _, tc := range tests {
		if got := shortHash(tc.in); got != tc.want {
			t.Errorf("shortHash(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDemo(t *testing.T) {
	r := runCLI(t, "", "-config", testConfig(t), "-demo")
	if r.code != exitOK {
		t.Fatalf("exit code = %d", r.code)
	}
	lines := strings.Split(strings.TrimSuffix(r.stdout, "\n"), "\n")
	if lines[0] != "== test chunk ==" {
		t.Errorf("header = %q", lines[0])
	}
	// Header plus 301 instructions.
	if len(lines) != 302 {
		t.Errorf("got %d lines, want 302", len(lines))
	}
	if last := lines[len(lines)-1]; last != "0688  300 OP_RETURN" {
		t.Errorf("last line = %q, want 0688  300 OP_RETURN", last)
	}
}

func TestREPL(t *testing.T) {
	input := strings.Join([]string{
		":help",
		"CONSTANT 2",
		"CONSTANT 4",
		"MULTIPLY",
		"RETURN",
		":dis",
		"BOGUS",
		"",
		"NEGATE",
		"return ; runtime error",
		"exit",
	}, "\n") + "\n"

	r := runCLI(t, input, "-config", testConfig(t), "-i")
	if r.code != exitOK {
		t.Fatalf("exit code = %d", r.code)
	}
	for _, want := range []string{
		">> .. .. .. 8\n",
		"== repl ==",
		"0004    3 OP_MULTIPLY",
		"Compile error: assembly errors: 1:1: unknown instruction \"BOGUS\"",
		"Runtime error: [line 1] stack underflow at offset 0000",
	} {
		if !strings.Contains(r.stdout, want) {
			t.Errorf("REPL output missing %q:\n%s", want, r.stdout)
		}
	}
}

func TestIsReturn(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"RETURN", true},
		{"op_return", true},
		{"return ; done", true},
		{"CONSTANT 1", false},
		{"; RETURN", false},
	}
	for _, tc := range tests {
		if got := isReturn(tc.line); got != tc.want {
			t.Errorf("isReturn(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestChunkName(t *testing.T) {
	if got := chunkName("/tmp/prog/add.asm"); got != "add" {
		t.Errorf("chunkName = %q, want add", got)
	}
	if got := chunkName("-"); got != "stdin" {
		t.Errorf("chunkName(-) = %q, want stdin", got)
	}
}
