package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Storage is the sink the packager writes segment bytes and manifest text to.
// A Write must only return nil once the data is durably stored; the packager
// relies on that to keep the manifest from ever advertising a segment that
// is not actually available.
type Storage interface {
	// Write stores data under the given identifier, replacing any previous
	// content atomically from a reader's perspective.
	Write(name string, data []byte) error

	// Read returns the content stored under the given identifier.
	Read(name string) ([]byte, error)

	// Exists reports whether the identifier has stored content.
	Exists(name string) (bool, error)

	// List returns the identifiers stored under the given prefix.
	List(prefix string) ([]string, error)
}

// LocalStorage implements Storage on the local filesystem under a base
// directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates the base directory if needed and returns a
// filesystem-backed Storage.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Write stores data, using a temp file plus rename so a concurrent reader
// never observes a partially written manifest or segment.
func (s *LocalStorage) Write(name string, data []byte) error {
	full := filepath.Join(s.baseDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Read implements Storage.Read.
func (s *LocalStorage) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Exists implements Storage.Exists.
func (s *LocalStorage) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(name)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List implements Storage.List.
func (s *LocalStorage) List(prefix string) ([]string, error) {
	var names []string
	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

// ContentType maps an output identifier to the media type it should be
// served with.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".mpd"):
		return "application/dash+xml"
	case strings.HasSuffix(name, ".cmfi"), strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(name, ".cmfv"), strings.HasSuffix(name, ".cmfa"), strings.HasSuffix(name, ".m4s"):
		return "video/iso.segment"
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the cache policy for an output identifier: the
// manifest changes on every segment and must not be cached, while segments
// and init files are immutable once written.
func CacheControl(name string) string {
	if strings.HasSuffix(name, ".mpd") {
		return "no-cache, no-store, must-revalidate"
	}
	return "public, max-age=3600"
}
