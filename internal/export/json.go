// Package export writes completed runs to disk and renders them as Markdown
// or Mermaid.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dusk-indust/replaylab/internal/model"
)

// ErrNotFound is returned when no result file exists for a run ID.
var ErrNotFound = errors.New("result not found")

const (
	filePrefix = "result-"
	fileSuffix = ".json"
)

// Writer saves comparison results as indented JSON files named
// result-<run_id>.json under Dir.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// ResultFile is a result found on disk.
type ResultFile struct {
	RunID   string
	Path    string
	ModTime time.Time
}

// Path returns the file a run is written to.
func (w *Writer) Path(runID string) string {
	return filepath.Join(w.Dir, filePrefix+runID+fileSuffix)
}

// Save writes result atomically. It satisfies orchestrator.Sink.
func (w *Writer) Save(ctx context.Context, result *model.ComparisonResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.RunID == "" || strings.ContainsAny(result.RunID, `/\`) {
		return fmt.Errorf("export: invalid run id %q", result.RunID)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("export: create output dir: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal result: %w", err)
	}

	tmp, err := os.CreateTemp(w.Dir, ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("export: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("export: write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export: close result: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.Path(result.RunID)); err != nil {
		return fmt.Errorf("export: rename result: %w", err)
	}
	return nil
}

// Load reads the result of runID.
func (w *Writer) Load(runID string) (*model.ComparisonResult, error) {
	res, err := ReadResult(w.Path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return res, err
}

// GetRun is Load with a context, so a Writer can serve as a run reader.
func (w *Writer) GetRun(ctx context.Context, runID string) (*model.ComparisonResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.Load(runID)
}

// List returns the results under Dir, newest first. A missing directory is
// an empty listing.
func (w *Writer) List() ([]ResultFile, error) {
	entries, err := os.ReadDir(w.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("export: read output dir: %w", err)
	}

	var files []ResultFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, ResultFile{
			RunID:   strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix),
			Path:    filepath.Join(w.Dir, name),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].RunID < files[j].RunID
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// ReadResult decodes a result file.
func ReadResult(path string) (*model.ComparisonResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res model.ComparisonResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("export: decode %s: %w", path, err)
	}
	return &res, nil
}
