// Package mcpconfig checks and maintains the agent IDE's MCP server entry
// (.cursor/mcp.json), so the integration status can tell the operator
// whether the agent is actually pointed at this bridge.
package mcpconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskwire/taskwire/internal/log"
)

// ServerName is the key our entry lives under in mcp.json.
const ServerName = "taskwire"

// DefaultRelPath is where agent IDEs look for the MCP config, relative to
// the workspace root.
const DefaultRelPath = ".cursor/mcp.json"

// Status classifies the IDE config from the bridge's point of view.
type Status string

const (
	StatusOK            Status = "OK"
	StatusMisconfigured Status = "MISCONFIGURED"
	StatusNotFound      Status = "NOT_FOUND"
)

// ServerEntry is one server block inside mcp.json.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// File is the full mcp.json document. Entries for other servers are
// preserved verbatim on write.
type File struct {
	Servers map[string]json.RawMessage `json:"mcpServers"`
}

// Checker inspects and repairs the mcp.json at a fixed path.
type Checker struct {
	path    string
	command string
	args    []string
}

// NewChecker builds a checker for path, expecting our entry to launch
// command with args.
func NewChecker(path, command string, args []string) *Checker {
	return &Checker{path: path, command: command, args: args}
}

// Path returns the config file path being checked.
func (c *Checker) Path() string { return c.path }

// Check reports whether the IDE config points at this bridge.
func (c *Checker) Check() Status {
	entry, err := c.readEntry()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StatusNotFound
		}
		log.Warn(log.CatConfig, "Failed to read MCP config", "path", c.path, "error", err)
		return StatusMisconfigured
	}
	if entry == nil {
		return StatusNotFound
	}
	if entry.Command != c.command || !equalArgs(entry.Args, c.args) {
		return StatusMisconfigured
	}
	return StatusOK
}

// readEntry returns our server entry, nil when the file exists but has no
// entry for us.
func (c *Checker) readEntry() (*ServerEntry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.path, err)
	}

	raw, ok := f.Servers[ServerName]
	if !ok {
		return nil, nil
	}
	var entry ServerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("parsing %s entry: %w", ServerName, err)
	}
	return &entry, nil
}

// Ensure writes or repairs our entry, preserving every other server block.
func (c *Checker) Ensure() error {
	f := File{Servers: map[string]json.RawMessage{}}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parsing %s: %w", c.path, err)
		}
		if f.Servers == nil {
			f.Servers = map[string]json.RawMessage{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	entry, err := json.Marshal(ServerEntry{Command: c.command, Args: c.args})
	if err != nil {
		return err
	}
	f.Servers[ServerName] = entry

	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), "mcp.json.tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	log.Info(log.CatConfig, "Wrote MCP server entry", "path", c.path)
	return nil
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
