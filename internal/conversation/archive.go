package conversation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dusk-indust/replaylab/internal/logging"
)

// DefaultArchiveDir is the archive location relative to the user's home
// directory when REPLAYLAB_ARCHIVE is unset.
const DefaultArchiveDir = ".config/superpowers/conversation-archive"

// Loader loads a conversation by its session ID.
type Loader interface {
	Load(ctx context.Context, sessionID string) (*Conversation, error)
}

// Summary is the listing entry for one archived conversation.
type Summary struct {
	SessionID    string    `json:"session_id"`
	ProjectPath  string    `json:"project_path"`
	FilePath     string    `json:"file_path"`
	Modified     time.Time `json:"modified"`
	MessageCount int       `json:"message_count"`
}

// ListOptions filters an archive listing.
type ListOptions struct {
	// ProjectFilter keeps only project directories whose name contains it.
	ProjectFilter string
	// Limit caps the number of summaries returned. Zero means 20.
	Limit int
}

// Archive reads conversations from a directory of project folders, each
// holding one <session-id>.jsonl file per conversation.
type Archive struct {
	root string
}

var _ Loader = (*Archive)(nil)

// NewArchive returns an Archive rooted at root.
func NewArchive(root string) *Archive {
	return &Archive{root: root}
}

// DefaultArchivePath resolves the archive root from REPLAYLAB_ARCHIVE or the
// home directory default.
func DefaultArchivePath() string {
	if p := os.Getenv("REPLAYLAB_ARCHIVE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultArchiveDir
	}
	return filepath.Join(home, DefaultArchiveDir)
}

// Root returns the archive directory.
func (a *Archive) Root() string {
	return a.root
}

// List returns conversation summaries sorted by modification time, most
// recent first. A missing archive directory yields an empty listing.
func (a *Archive) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	projects, err := os.ReadDir(a.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("read archive %s: %w", a.root, err)
	}

	summaries := []Summary{}
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !project.IsDir() {
			continue
		}
		if opts.ProjectFilter != "" && !strings.Contains(project.Name(), opts.ProjectFilter) {
			continue
		}

		dir := filepath.Join(a.root, project.Name())
		files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			msgs, err := readMessagesFile(f)
			if err != nil {
				logging.Warn().Err(err).Str("file", f).Msg("skipping unreadable conversation")
				continue
			}
			summaries = append(summaries, Summary{
				SessionID:    strings.TrimSuffix(filepath.Base(f), ".jsonl"),
				ProjectPath:  project.Name(),
				FilePath:     f,
				Modified:     info.ModTime(),
				MessageCount: len(msgs),
			})
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Modified.After(summaries[j].Modified)
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Load finds <sessionID>.jsonl under any project directory and parses it.
// It returns ErrNotFound if no such file exists.
func (a *Archive) Load(ctx context.Context, sessionID string) (*Conversation, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return nil, fmt.Errorf("%w: invalid session id %q", ErrNotFound, sessionID)
	}

	projects, err := os.ReadDir(a.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("read archive %s: %w", a.root, err)
	}

	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !project.IsDir() {
			continue
		}
		p := filepath.Join(a.root, project.Name(), sessionID+".jsonl")
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// LoadFile parses a single JSONL conversation file. The project path is the
// name of the file's parent directory.
func LoadFile(path string) (*Conversation, error) {
	msgs, err := readMessagesFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return &Conversation{
		SessionID:   strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		ProjectPath: filepath.Base(filepath.Dir(path)),
		SourcePath:  path,
		Messages:    msgs,
	}, nil
}

func readMessagesFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open conversation file: %w", err)
	}
	defer f.Close()
	return ReadMessages(f, path)
}

// ReadMessages parses JSONL records from r. Lines that are empty, malformed or
// not user/assistant turns are skipped. source only labels log output.
func ReadMessages(r io.Reader, source string) ([]Message, error) {
	reader := bufio.NewReader(r)
	messages := []Message{}
	lineNum := 0

	for {
		lineNum++
		// ReadBytes has no line length limit, unlike bufio.Scanner.
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if msg, ok := parseLine(line, lineNum, source); ok {
				messages = append(messages, msg)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
	}
	return messages, nil
}
