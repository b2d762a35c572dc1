package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/dusk-indust/replaylab/internal/export"
)

func runCompare(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	format := fs.String("format", "markdown", "markdown, mermaid or json")
	outputDir := fs.String("output-dir", "", "directory holding result files")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: replaylab compare [-format markdown|mermaid|json] <run-id>")
	}

	res, err := a.lookupRun(ctx, a.outputDir(*outputDir, ""), positional[0])
	if err != nil {
		return fmt.Errorf("compare failed: %w", err)
	}

	switch strings.ToLower(*format) {
	case "markdown", "md":
		fmt.Fprint(stdout, export.FormatMarkdown(res))
	case "mermaid":
		fmt.Fprint(stdout, export.GenerateMermaid(res))
	case "json":
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = stdout.Write(append(out, '\n'))
		return err
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}
