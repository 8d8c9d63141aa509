package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidCategory = errors.New("invalid artifact category")
	ErrNotFound        = errors.New("artifact not found")
)

// Categories an artifact may be stored under. Anything else is rejected,
// both on save and on download.
var categories = map[string]bool{
	"scenes": true,
	"images": true,
	"audio":  true,
	"music":  true,
	"videos": true,
}

// Store keeps generated artifacts as files under a root directory, one
// subdirectory per category. Locators have the form
// /files/{category}/{name} and are served back byte-for-byte.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	for category := range categories {
		if err := os.MkdirAll(filepath.Join(root, category), 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

func ValidCategory(category string) bool {
	return categories[category]
}

// SaveFile writes content under the category and returns its locator.
func (s *Store) SaveFile(category, name string, content []byte) (string, error) {
	path, err := s.path(category, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return Locator(category, name), nil
}

// SaveJSON marshals v with indentation and stores it like SaveFile.
func (s *Store) SaveJSON(category, name string, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return s.SaveFile(category, name, raw)
}

// Path resolves a locator or category/name pair to an absolute file path.
func (s *Store) Path(category, name string) (string, error) {
	return s.path(category, name)
}

// Size returns the byte size of a stored artifact, or 0 when the locator
// does not resolve. Callers use this for reporting, not existence checks.
func (s *Store) Size(locator string) int64 {
	category, name, ok := SplitLocator(locator)
	if !ok {
		return 0
	}
	path, err := s.path(category, name)
	if err != nil {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Open stats a stored artifact for serving. Returns ErrInvalidCategory or
// ErrNotFound so the handler can map to 400/404.
func (s *Store) Open(category, name string) (string, int64, error) {
	path, err := s.path(category, name)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, ErrNotFound
	}
	return path, info.Size(), nil
}

func (s *Store) path(category, name string) (string, error) {
	if !categories[category] {
		return "", ErrInvalidCategory
	}
	// Reject traversal; artifact names are always flat.
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", ErrNotFound
	}
	return filepath.Join(s.root, category, name), nil
}

// Locator builds the stable /files locator for a stored artifact.
func Locator(category, name string) string {
	return "/files/" + category + "/" + name
}

// SplitLocator is the inverse of Locator.
func SplitLocator(locator string) (category, name string, ok bool) {
	rest, found := strings.CutPrefix(locator, "/files/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// MimeType maps an artifact filename to its content type for serving.
func MimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
