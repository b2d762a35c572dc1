package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dusk-indust/replaylab/internal/scaffold"
)

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// replaylabMCPEntry is the MCP server configuration for the replaylab binary.
var replaylabMCPEntry = json.RawMessage(`{
  "type": "stdio",
  "command": "replaylab",
  "args": ["serve-mcp"]
}`)

// runInit writes the starter config files and the MCP server entry into the
// project directory.
func runInit(projectDir string, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolving project dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}

	files, err := scaffold.Files()
	if err != nil {
		return fmt.Errorf("reading embedded templates: %w", err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dest := filepath.Join(abs, name)
		if !*force {
			if _, err := os.Stat(dest); err == nil {
				fmt.Fprintf(stdout, "  skipped %s (exists, use -force to overwrite)\n", dotRelative(abs, dest))
				continue
			}
		}
		if err := os.WriteFile(dest, files[name], 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		fmt.Fprintf(stdout, "  created %s\n", dotRelative(abs, dest))
	}

	if err := mergeMCPConfig(filepath.Join(abs, ".mcp.json"), *force); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\nSetup complete. Edit fork.yaml, then run 'replaylab list' to pick a conversation.")
	return nil
}

// mergeMCPConfig creates or merges the replaylab entry into .mcp.json.
func mergeMCPConfig(mcpPath string, force bool) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["replaylab"]; exists && !force {
		fmt.Fprintln(stdout, "  skipped .mcp.json replaylab entry (exists, use -force to overwrite)")
		return nil
	}

	cfg.MCPServers["replaylab"] = replaylabMCPEntry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}

	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(stdout, "  %s .mcp.json with replaylab MCP server\n", action)
	return nil
}

// dotRelative returns a display path relative to the project dir, prefixed
// with "./".
func dotRelative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return "./" + rel
}
