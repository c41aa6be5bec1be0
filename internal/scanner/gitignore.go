package scanner

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreMatcher wraps a gitignore pattern matcher.
type IgnoreMatcher struct {
	gi *gitignore.GitIgnore
}

// NewIgnoreMatcher loads .gitignore from root.
// If no .gitignore file is found, the matcher accepts everything.
func NewIgnoreMatcher(root string) *IgnoreMatcher {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return &IgnoreMatcher{}
	}
	gi, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return &IgnoreMatcher{}
	}
	return &IgnoreMatcher{gi: gi}
}

// NewIgnoreLines builds a matcher from pattern lines, ignoring .gitignore.
func NewIgnoreLines(lines ...string) *IgnoreMatcher {
	return &IgnoreMatcher{gi: gitignore.CompileIgnoreLines(lines...)}
}

// Match returns true if the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relPath string) bool {
	if m == nil || m.gi == nil {
		return false
	}
	return m.gi.MatchesPath(relPath)
}

// hardIgnored contains directories that are always skipped regardless of .gitignore.
var hardIgnored = map[string]bool{
	"node_modules":  true,
	"vendor":        true,
	".git":          true,
	".memory-agent": true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".cache":        true,
}

// HardIgnore returns true if the directory name is always excluded.
func HardIgnore(name string) bool {
	return hardIgnored[name]
}

// TranscriptExtensions are the file extensions treated as conversation logs.
var TranscriptExtensions = []string{".txt", ".md", ".log", ".jsonl"}

// IsTranscript reports whether name looks like a conversation log. Hidden
// files and editor backups never are.
func IsTranscript(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range TranscriptExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
