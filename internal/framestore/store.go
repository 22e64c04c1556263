// Package framestore writes alert frame images to disk.
package framestore

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Store owns every alert session directory below a single root
// ARCHITECTURAL DISCOVERY: Removal is confined to the root so a corrupt
// save_dir column can never delete anything else on the host
type Store struct {
	root string
}

// New creates a frame store rooted at root
func New(root string) (*Store, error) {
	if root == "" {
		return nil, ErrEmptyDir
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve frame root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute frame root
func (s *Store) Root() string {
	return s.root
}

// Prepare creates dir and its parents
func (s *Store) Prepare(dir string) error {
	if dir == "" {
		return ErrEmptyDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create frame directory: %w", err)
	}
	return nil
}

// Save writes image as frame_<index> inside dir and returns the file path and
// its BLAKE3 checksum
func (s *Store) Save(dir string, index int, image []byte) (string, string, error) {
	if dir == "" {
		return "", "", ErrEmptyDir
	}
	if len(image) == 0 {
		return "", "", ErrEmptyFrame
	}
	if err := s.Prepare(dir); err != nil {
		return "", "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("frame_%05d%s", index, extension(image)))

	// TECHNICAL DISCOVERY: Write to a temp file then rename so a crash never
	// leaves a truncated frame behind a committed row
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, image, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("failed to commit frame: %w", err)
	}
	return path, Checksum(image), nil
}

// Remove deletes dir and everything in it. Missing directories are not an error.
func (s *Store) Remove(dir string) error {
	if dir == "" {
		return ErrEmptyDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve frame directory: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrUnsafeRemove, dir)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to remove frame directory: %w", err)
	}
	return nil
}

// Checksum returns the hex BLAKE3-256 digest of data
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func extension(image []byte) string {
	switch http.DetectContentType(image) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
