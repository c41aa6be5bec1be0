// Package scanner finds conversation transcripts on disk for directory
// ingest and the watcher.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Transcript is a conversation log found by Scan.
type Transcript struct {
	Path    string // relative to the scan root
	AbsPath string
	Size    int64
	ModTime time.Time
}

// ScanResult holds the output of a directory scan.
type ScanResult struct {
	Files  []Transcript
	Errors []error
}

// ScanOptions controls scanner behaviour.
type ScanOptions struct {
	Root string
	// MaxBytes skips files larger than this when positive.
	MaxBytes int64
	// Exclude holds extra gitignore-style patterns.
	Exclude []string
}

// Scan walks opts.Root and returns every transcript file, sorted by path.
// It does not read file contents.
func Scan(opts ScanOptions) ScanResult {
	root := opts.Root
	ignore := NewIgnoreMatcher(root)
	var extra *IgnoreMatcher
	if len(opts.Exclude) > 0 {
		extra = NewIgnoreLines(opts.Exclude...)
	}

	var result ScanResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if HardIgnore(d.Name()) || ignore.Match(rel+"/") || extra.Match(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsTranscript(d.Name()) {
			return nil
		}
		if ignore.Match(rel) || extra.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("stat %s: %w", rel, err))
			return nil
		}
		if opts.MaxBytes > 0 && info.Size() > opts.MaxBytes {
			return nil
		}
		abs, _ := filepath.Abs(path)
		result.Files = append(result.Files, Transcript{
			Path:    rel,
			AbsPath: abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, err)
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })
	return result
}

// Accept reports whether relPath under a watched root should be ingested.
// It applies the same rules as Scan to a single path.
func Accept(relPath string, ignore *IgnoreMatcher) bool {
	for _, part := range strings.Split(filepath.Dir(relPath), string(filepath.Separator)) {
		if HardIgnore(part) {
			return false
		}
	}
	if !IsTranscript(filepath.Base(relPath)) {
		return false
	}
	return !ignore.Match(relPath)
}
