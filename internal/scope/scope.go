// Package scope decides which parsed directives may touch the disk.
package scope

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/model"
)

// Violation is a directive dropped by the validator.
type Violation struct {
	Identifier string
	Reason     string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Identifier, v.Reason)
}

// Set is the ScopeSet: mutable files reachable from the pins.
type Set struct {
	files map[string]struct{}
	// pinnedDirs are kept to report nested-but-filtered paths precisely.
	pinnedDirs []string
}

// IsReadOnly reports whether a pin names a read-only resource.
func IsReadOnly(identifier string) bool {
	return strings.HasPrefix(identifier, model.ReadOnlyPrefix)
}

// Build expands pins into a Set. Pinned files are included when valid;
// pinned directories are walked concurrently. Missing pins are ignored.
func Build(ctx context.Context, pins []string) (*Set, error) {
	set := &Set{files: make(map[string]struct{})}

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	for _, pin := range pins {
		if IsReadOnly(pin) {
			continue
		}
		abs, err := filepath.Abs(pin)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}

		if !info.IsDir() {
			if fs.IsValidFile(abs) {
				set.files[abs] = struct{}{}
			}
			continue
		}

		set.pinnedDirs = append(set.pinnedDirs, abs)
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := fs.WalkValidFiles(abs)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, f := range files {
				set.files[f] = struct{}{}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to expand pins: %w", err)
	}
	return set, nil
}

// Contains reports whether path is a ScopeSet member.
func (s *Set) Contains(path string) bool {
	_, ok := s.files[filepath.Clean(path)]
	return ok
}

// Files returns the members in sorted order.
func (s *Set) Files() []string {
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Len is the number of members.
func (s *Set) Len() int {
	return len(s.files)
}

// Filter keeps the directives allowed to reach the patch engine.
//
// Ranged edits and whole-file rewrites of existing files must target a
// member. A whole-file directive for a path that does not exist yet may
// create any absolute path. Read-only resources are never kept.
func (s *Set) Filter(directives []model.Directive, exists func(string) bool) ([]model.Directive, []Violation) {
	var (
		kept       []model.Directive
		violations []Violation
	)
	for _, d := range directives {
		if v, ok := s.check(d, exists); !ok {
			violations = append(violations, v)
			continue
		}
		d.Identifier = filepath.Clean(d.Identifier)
		kept = append(kept, d)
	}
	return kept, violations
}

func (s *Set) check(d model.Directive, exists func(string) bool) (Violation, bool) {
	id := d.Identifier
	switch {
	case IsReadOnly(id):
		return Violation{Identifier: id, Reason: "read-only resource cannot be modified"}, false
	case !filepath.IsAbs(id):
		return Violation{Identifier: id, Reason: "identifier is not an absolute path"}, false
	}

	if s.Contains(id) {
		return Violation{}, true
	}
	if d.Kind == model.KindNewFile && !exists(id) {
		return Violation{}, true
	}

	if s.underPinnedDir(id) {
		return Violation{Identifier: id, Reason: "path is hidden or not an editable file"}, false
	}
	return Violation{Identifier: id, Reason: "path is outside the pinned files"}, false
}

func (s *Set) underPinnedDir(path string) bool {
	path = filepath.Clean(path)
	for _, dir := range s.pinnedDirs {
		if rel, err := filepath.Rel(dir, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}
