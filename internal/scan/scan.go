// Package scan discovers source units under a repository root. It walks
// the tree honoring .gitignore rules and the configured include/exclude
// globs, keeping only files whose language the parser supports.
package scan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/lattice-dev/lattice/internal/parse"
)

// Options control which files a scan yields. Include patterns, when
// present, act as an allowlist; exclude patterns always win.
type Options struct {
	Include []string
	Exclude []string
}

// Scanner walks a repository root.
type Scanner struct {
	root   string
	opts   Options
	git    *ignore.GitIgnore
	logger *slog.Logger
}

// New creates a scanner rooted at root. A .gitignore at the root is
// loaded if present; a nil logger falls back to slog.Default.
func New(root string, opts Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{root: root, opts: opts, logger: logger}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		s.git = gi
	}
	return s
}

// Scan returns the sorted repository-relative slash paths of every
// supported source file under the root. Inside a git checkout the file
// list comes from git itself, which already applies ignore rules; plain
// directories fall back to a walk.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	if paths, ok := s.gitLsFiles(ctx); ok {
		return paths, nil
	}
	return s.walk(ctx)
}

// gitLsFiles asks git for the tracked and untracked (non-ignored) files.
func (s *Scanner) gitLsFiles(ctx context.Context) ([]string, bool) {
	cmd := exec.CommandContext(ctx, "git", "-C", s.root,
		"ls-files", "--cached", "--others", "--exclude-standard")
	out, err := cmd.Output()
	if err != nil {
		return nil, false
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		rel := strings.TrimSpace(sc.Text())
		if rel == "" {
			continue
		}
		if s.keep(rel) {
			paths = append(paths, rel)
		}
	}
	if sc.Err() != nil {
		return nil, false
	}
	sort.Strings(paths)
	s.logger.Debug("scanned via git", "files", len(paths))
	return paths, true
}

func (s *Scanner) walk(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.skipDir(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.keep(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Scanner) skipDir(rel, name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if s.git != nil && s.git.MatchesPath(rel+"/") {
		return true
	}
	for _, pat := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) keep(rel string) bool {
	if _, ok := parse.LanguageForFile(rel); !ok {
		return false
	}
	if s.git != nil && s.git.MatchesPath(rel) {
		return false
	}
	for _, pat := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return false
		}
	}
	if len(s.opts.Include) == 0 {
		return true
	}
	for _, pat := range s.opts.Include {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
