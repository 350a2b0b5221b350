package fs

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker enumerates corpus images under a root directory. Paths are returned
// relative to the root, slash-separated and sorted, so two walks over an
// unchanged corpus enumerate identically and rebuilds are reproducible.
type Walker struct {
	includes []string
	excludes []string
}

// DefaultIncludes matches the image formats the corpus may contain.
var DefaultIncludes = []string{"**/*.jpg", "**/*.jpeg", "**/*.png", "**/*.webp"}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns the relative paths of all matching images under root, sorted.
func (w *Walker) Walk(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if w.shouldExclude(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(rel) && !w.shouldExclude(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ReadFile reads one corpus image.
func ReadFile(root, rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
}
