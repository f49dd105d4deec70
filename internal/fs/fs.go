package fs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Workspace is the file access the edit pipeline needs.
type Workspace interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Remove(path string) error
	Exists(path string) bool
}

// OS is a Workspace backed by the local disk.
type OS struct{}

// NewOS creates a disk-backed workspace.
func NewOS() *OS {
	return &OS{}
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data, creating missing parent directories first.
func (OS) WriteFile(path string, data []byte) error {
	if err := CreateParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Remove deletes path. Parent directories are left alone.
func (OS) Remove(path string) error {
	return os.Remove(path)
}

func (OS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateParentDir makes sure the directory holding path exists.
func CreateParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	return nil
}

// MissingDirs lists the ancestors of path that do not exist yet, deepest
// first. These are the directories a write to path would create.
func MissingDirs(path string) []string {
	var missing []string
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); !IsNotExist(err) {
			break
		}
		missing = append(missing, dir)
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}
	return missing
}

// RemoveEmptyDirs removes each of dirs, in order, while it is empty. A
// directory that still has entries is kept.
func RemoveEmptyDirs(dirs []string) error {
	for _, dir := range dirs {
		empty, err := IsEmpty(dir)
		if IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("failed to remove directory '%s': %w", dir, err)
		}
	}
	return nil
}

// IsEmpty reports whether a directory has no entries.
func IsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

var ignoredExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".tiff": {}, ".ico": {}, ".svg": {},
	".mp3": {}, ".wav": {}, ".ogg": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
}

// IsValidFile reports whether a file may be read into a prompt and edited:
// not hidden, and not one of the binary-like extensions.
func IsValidFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ignored := ignoredExtensions[strings.ToLower(filepath.Ext(base))]
	return !ignored
}

// WalkValidFiles returns every valid file under dir as an absolute path.
// Hidden directories are not descended into.
func WalkValidFiles(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsValidFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk '%s': %w", dir, err)
	}
	return files, nil
}

// FindRoot returns the git top-level directory, or the working directory
// when not inside a repository.
func FindRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err == nil {
		if root := strings.TrimSpace(string(output)); root != "" {
			return root, nil
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("could not get current working directory: %w", err)
	}
	return wd, nil
}

// IsNotExist reports whether err means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}
