// Package discovery finds test files under a directory.
package discovery

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// Options controls which files are test files.
type Options struct {
	// Pattern is matched against file names. Brace alternation is
	// supported, as in "*.aptitude.{yaml,yml}".
	Pattern string

	// Recursive descends into subdirectories.
	Recursive bool

	// Exclude lists directory names that are never entered.
	Exclude []string
}

// Finder walks a filesystem for test files.
type Finder struct {
	fs afero.Fs
}

// New returns a Finder over the OS filesystem.
func New() *Finder {
	return &Finder{fs: afero.NewOsFs()}
}

// NewWithFs returns a Finder over fsys.
func NewWithFs(fsys afero.Fs) *Finder {
	return &Finder{fs: fsys}
}

// Find returns the sorted paths of every matching file under dir.
func (f *Finder) Find(dir string, opts Options) ([]string, error) {
	g, err := glob.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", opts.Pattern, err)
	}

	var found []string
	err = afero.Walk(f.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path == dir {
				return nil
			}
			if !opts.Recursive || slices.Contains(opts.Exclude, info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if g.Match(info.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover tests in %s: %w", dir, err)
	}

	slices.Sort(found)
	return found, nil
}

// IsTestFile reports whether name matches pattern.
func IsTestFile(name, pattern string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(filepath.Base(name))
}

// Excluded reports whether any directory component of path is in
// exclude.
func Excluded(path string, exclude []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if slices.Contains(exclude, part) {
			return true
		}
	}
	return false
}
