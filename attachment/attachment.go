// Package attachment resolves user-supplied resource identifiers into
// inline file references for the prompt payload.
package attachment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bazelment/agentdeck/protocol"
)

// Resolver turns resource identifiers into file references.
type Resolver interface {
	// Resolve maps each ref to zero or more files. Refs that match
	// nothing are reported via the returned Unresolved list, not as an
	// error; the query proceeds with what resolved.
	Resolve(baseDir string, refs []string) (Result, error)
}

// Result is the outcome of resolving a batch of refs.
type Result struct {
	Files      []protocol.FileRef
	Unresolved []string
}

// GlobResolver resolves refs against the filesystem. Refs may be plain
// paths or doublestar glob patterns (src/**/*.go).
type GlobResolver struct {
	// MaxMatches caps files per ref so a stray ** cannot inline a whole
	// tree. Zero means DefaultMaxMatches.
	MaxMatches int
}

// DefaultMaxMatches caps glob expansion per ref.
const DefaultMaxMatches = 64

// Resolve implements Resolver.
func (r *GlobResolver) Resolve(baseDir string, refs []string) (Result, error) {
	limit := r.MaxMatches
	if limit <= 0 {
		limit = DefaultMaxMatches
	}

	var out Result
	seen := make(map[string]bool)
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		matches, err := expand(baseDir, ref, limit)
		if err != nil {
			return Result{}, fmt.Errorf("resolve %q: %w", ref, err)
		}
		if len(matches) == 0 {
			out.Unresolved = append(out.Unresolved, ref)
			continue
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			out.Files = append(out.Files, protocol.FileRef{
				Path:    path,
				Display: displayName(baseDir, path),
			})
		}
	}
	return out, nil
}

func expand(baseDir, ref string, limit int) ([]string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	if !strings.ContainsAny(ref, "*?[{") {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return nil, nil
		}
		return []string{path}, nil
	}

	root := baseDir
	pattern := ref
	if filepath.IsAbs(ref) {
		root = string(filepath.Separator)
		pattern = strings.TrimPrefix(ref, root)
	}
	fsys := os.DirFS(root)

	var matches []string
	err := doublestar.GlobWalk(fsys, filepath.ToSlash(pattern), func(p string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		matches = append(matches, filepath.Join(root, filepath.FromSlash(p)))
		if len(matches) >= limit {
			return errLimitReached
		}
		return nil
	})
	if err != nil && err != errLimitReached {
		return nil, err
	}
	return matches, nil
}

var errLimitReached = errors.New("match limit reached")

func displayName(baseDir, path string) string {
	if baseDir == "" {
		return filepath.Base(path)
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return rel
}
