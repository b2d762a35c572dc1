// Package scaffold embeds the starter files that `replaylab init` writes
// into a project: a project config and an example fork config.
package scaffold

import (
	"embed"
	"io/fs"
)

// TemplateFS contains the embedded starter files. Walk from "templates" to
// iterate over all of them.
//
//go:embed templates/*
var TemplateFS embed.FS

// Files returns the embedded starter files keyed by their destination name.
func Files() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := fs.WalkDir(TemplateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := TemplateFS.ReadFile(path)
		if err != nil {
			return err
		}
		out[d.Name()] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
