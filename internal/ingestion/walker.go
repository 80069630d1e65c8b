package ingestion

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// walker expands ingest arguments into files using doublestar include and
// exclude patterns matched against slash-separated paths relative to each
// root. Hidden directories are never entered.
type walker struct {
	includes []string
	excludes []string
}

func newWalker(includes, excludes []string) (*walker, error) {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("ingestion: invalid glob pattern %q", p)
		}
	}
	return &walker{includes: includes, excludes: excludes}, nil
}

// collect returns the files under roots, sorted and de-duplicated. A root
// that names a file is returned as-is, without pattern matching.
func (w *walker) collect(roots []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("ingestion: resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("ingestion: stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(abs, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path == abs {
					return nil
				}
				if strings.HasPrefix(d.Name(), ".") || w.match(w.excludes, rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && w.match(w.includes, rel) && !w.match(w.excludes, rel) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ingestion: walk %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (w *walker) match(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
