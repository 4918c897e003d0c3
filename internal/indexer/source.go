package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source feeds files into an indexing run. Paths are relative to the
// source root and slash-separated, matching the paths recorded in the
// file ledger.
type Source interface {
	Discover(ctx context.Context) ([]string, error)
	Read(path string) ([]byte, error)
}

// FSSource walks a directory tree.
type FSSource struct {
	Root           string
	MaxFileSize    int64    // bytes; 0 means unlimited
	FollowSymlinks bool
	IgnorePatterns []string // matched against each path segment
}

var _ Source = (*FSSource)(nil)

// Discover walks the tree and returns every indexable file, sorted for
// deterministic run order.
func (s *FSSource) Discover(ctx context.Context) ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if path != s.Root && (strings.HasPrefix(name, ".") || s.ignored(name)) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || s.ignored(name) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !s.FollowSymlinks {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil // vanished mid-walk
		}
		if s.MaxFileSize > 0 && info.Size() > s.MaxFileSize {
			return nil
		}

		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Read returns the file contents for a path returned by Discover.
func (s *FSSource) Read(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
}

func (s *FSSource) ignored(name string) bool {
	for _, pattern := range s.IgnorePatterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
		if pattern == name {
			return true
		}
	}
	return false
}

// DetectLanguage maps a file extension to the language label used for
// chunking and filtering. Unknown extensions get an empty label and line
//-based chunking.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cc", ".cpp", ".hpp":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".md", ".markdown":
		return "markdown"
	case ".sh", ".bash":
		return "shell"
	case ".sql":
		return "sql"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
