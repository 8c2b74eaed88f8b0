// Package assets maps purchased book identifiers to files on disk. It is the
// delivery backend's view of the Asset Store: a root directory holding one
// subdirectory per brand, with a book's file named after its id.
//
// The package is intentionally small and dependency-free:
//
//   - No logging (callers decide how/what to log)
//   - Functional options for brand routing and file extension
//   - Immutable after construction, safe for concurrent use
//   - Strict id validation so a bookId can never traverse outside the root
//
// Brand resolution follows the id prefix: a book "aurora-field-guide" with a
// configured route "aurora-" → "aurora" resolves to
// <root>/aurora/aurora-field-guide.pdf; ids matching no route fall back to
// the default directory.
package assets

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissing is returned when a resolved asset file does not exist.
var ErrMissing = errors.New("asset file missing")

// ErrInvalidID is returned for empty ids or ids that could escape the root.
var ErrInvalidID = errors.New("invalid book id")

// route maps a bookId prefix to a brand subdirectory.
type route struct {
	prefix string
	dir    string
}

// Store resolves book ids to asset files under a root directory.
// The zero value is not usable; construct with New.
type Store struct {
	root       string
	routes     []route
	defaultDir string
	ext        string
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithBrandRoute adds a prefix→subdirectory mapping. Routes are evaluated in
// the order they were added; the first matching prefix wins.
func WithBrandRoute(prefix, dir string) Option {
	return func(s *Store) {
		prefix = strings.TrimSpace(prefix)
		dir = strings.TrimSpace(dir)
		if prefix != "" && dir != "" {
			s.routes = append(s.routes, route{prefix: prefix, dir: dir})
		}
	}
}

// WithDefaultDir sets the subdirectory for ids matching no brand route.
// Defaults to "default".
func WithDefaultDir(dir string) Option {
	return func(s *Store) {
		if d := strings.TrimSpace(dir); d != "" {
			s.defaultDir = d
		}
	}
}

// WithExtension overrides the asset file extension. Defaults to ".pdf".
func WithExtension(ext string) Option {
	return func(s *Store) {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = ext
	}
}

// New constructs a Store rooted at the given directory.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:       root,
		defaultDir: "default",
		ext:        ".pdf",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// validID rejects ids that are empty or could address files outside the
// store. Book ids are slugs: letters, digits, '-', '_' and '.' (not leading).
func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return !strings.Contains(id, "..")
}

// brandDir returns the subdirectory for a book id per the configured routes.
func (s *Store) brandDir(bookID string) string {
	for _, rt := range s.routes {
		if strings.HasPrefix(bookID, rt.prefix) {
			return rt.dir
		}
	}
	return s.defaultDir
}

// Resolve maps a book id to its expected file path without touching the
// filesystem. It returns ErrInvalidID for ids it refuses to resolve.
func (s *Store) Resolve(bookID string) (string, error) {
	if !validID(bookID) {
		return "", ErrInvalidID
	}
	return filepath.Join(s.root, s.brandDir(bookID), bookID+s.ext), nil
}

// Stat resolves a book id and checks that the asset exists. It returns
// ErrMissing when the file is absent, so callers can refuse the request
// before spending a download credit.
func (s *Store) Stat(bookID string) (fs.FileInfo, error) {
	path, err := s.Resolve(bookID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrMissing
	}
	return info, nil
}

// Open opens the asset for streaming. The caller owns the returned file and
// must close it; closing also cancels a blocked read when the client goes
// away mid-transfer.
func (s *Store) Open(bookID string) (*os.File, fs.FileInfo, error) {
	info, err := s.Stat(bookID)
	if err != nil {
		return nil, nil, err
	}
	path, _ := s.Resolve(bookID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrMissing
		}
		return nil, nil, err
	}
	return f, info, nil
}
