// Package problem models a mathematical statement handed to the proof
// pipeline, plus loading of problem files from disk.
package problem

import "path/filepath"

// Format identifies the on-disk representation of a problem statement.
type Format string

const (
	FormatLean     Format = "lean"
	FormatTeX      Format = "tex"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatUnknown  Format = "unknown"
)

var formatByExtension = map[string]Format{
	".lean":     FormatLean,
	".tex":      FormatTeX,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".txt":      FormatText,
}

// Problem is a single statement to prove. Immutable once loaded; the
// session layer never mutates it.
type Problem struct {
	// ID is a stable identity, the source path when loaded from disk.
	ID         string
	Statement  string
	Format     Format
	SourcePath string
	// Hint is an optional human-provided proof sketch.
	Hint string
	// Context holds ordered supporting snippets (lemma files, definitions)
	// forwarded to the generator.
	Context []string
}

// IsFormal reports whether the statement is already a formal Lean artifact.
func (p *Problem) IsFormal() bool { return p.Format == FormatLean }

// DisplayName returns a short human-readable identity.
func (p *Problem) DisplayName() string {
	if p.SourcePath != "" {
		return filepath.Base(p.SourcePath)
	}
	return "problem." + string(p.Format)
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) Format {
	if f, ok := formatByExtension[filepath.Ext(path)]; ok {
		return f
	}
	return FormatUnknown
}
