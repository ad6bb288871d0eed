package problem

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadFile reads a problem statement from disk.
func LoadFile(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load problem: %w", err)
	}
	return &Problem{
		ID:         path,
		Statement:  string(data),
		Format:     DetectFormat(path),
		SourcePath: path,
	}, nil
}

// LoadWithHint reads a problem and attaches a hint and context snippets.
// Context paths that do not exist are skipped rather than failing the load.
func LoadWithHint(path, hint string, contextPaths []string) (*Problem, error) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	p.Hint = hint

	for _, cp := range contextPaths {
		data, err := os.ReadFile(cp)
		if err != nil {
			continue
		}
		p.Context = append(p.Context, string(data))
	}
	return p, nil
}

// FromString builds an in-memory problem, used by tests and the API surface.
func FromString(statement string, format Format, hint string) *Problem {
	return &Problem{
		ID:        "inline." + string(format),
		Statement: statement,
		Format:    format,
		Hint:      hint,
	}
}

// ScanContextFolder returns all recognized problem/context files under dir,
// sorted for deterministic ordering.
func ScanContextFolder(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("context folder %q not found", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, ok := formatByExtension[filepath.Ext(path)]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Glob returns problems under dir matching pattern (e.g. "*.lean"),
// sorted by path.
func Glob(dir, pattern string) ([]*Problem, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	problems := make([]*Problem, 0, len(matches))
	for _, m := range matches {
		p, err := LoadFile(m)
		if err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	return problems, nil
}

// Stem returns the file name without directory or extension, used to name
// solution artifacts.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
