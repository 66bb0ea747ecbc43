// Package manifest handles clox.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "clox.toml"

// Defaults applied to fields left unset.
const (
	DefaultStackSize = 256
	DefaultStorePath = ".clox/chunks.db"
	DefaultAddr      = ":4567"
)

// Manifest represents a clox.toml configuration.
type Manifest struct {
	Project Project      `toml:"project" json:"project"`
	VM      VMConfig     `toml:"vm" json:"vm"`
	Log     LogConfig    `toml:"log" json:"log"`
	Store   StoreConfig  `toml:"store" json:"store"`
	Server  ServerConfig `toml:"server" json:"server"`

	// Dir is the directory containing the clox.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" json:"name"`
	Version string `toml:"version" json:"version"`
}

// VMConfig configures the virtual machine.
type VMConfig struct {
	StackSize int  `toml:"stack-size" json:"stack-size"`
	Trace     bool `toml:"trace" json:"trace"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// StoreConfig configures the chunk store.
type StoreConfig struct {
	Path string `toml:"path" json:"path"`
}

// ServerConfig configures the VM service.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
}

// Default returns the configuration used when no clox.toml is found.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.StackSize == 0 {
		m.VM.StackSize = DefaultStackSize
	}
	if m.Store.Path == "" {
		m.Store.Path = DefaultStorePath
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
}

// Load parses and validates a clox.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses and validates the configuration file at path. Dir is
// set to the file's directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes clox.toml content, fills in defaults and validates the
// result. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}

	m.applyDefaults()

	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a clox.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the chunk database path. Relative paths are resolved
// against the manifest's directory.
func (m *Manifest) StorePath() string {
	if filepath.IsAbs(m.Store.Path) || m.Dir == "" {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}

// LogFile returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
