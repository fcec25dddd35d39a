// Package storage persists uploaded files on local disk.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// MaxLogoSizeBytes caps logo uploads at 5MB.
const MaxLogoSizeBytes = 5 * 1024 * 1024

var (
	// ErrFileTooLarge indicates the upload exceeds MaxLogoSizeBytes.
	ErrFileTooLarge = errors.New("storage: file too large")
	// ErrUnsupportedImage indicates the upload is not a supported image type.
	ErrUnsupportedImage = errors.New("storage: unsupported image type")
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// LocalLogoStore writes logo images under a base directory and serves
// them from a public URL prefix.
type LocalLogoStore struct {
	dir        string
	publicBase string
}

// NewLocalLogoStore creates the base directory if needed.
func NewLocalLogoStore(dir, publicBase string) (*LocalLogoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create logo dir: %w", err)
	}
	return &LocalLogoStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Save validates and stores a logo image, returning its public URL.
// The previous logo for the business is left in place; files are keyed
// by business ID so a new upload replaces the served image.
func (s *LocalLogoStore) Save(ctx context.Context, businessID uuid.UUID, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxLogoSizeBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if len(data) > MaxLogoSizeBytes {
		return "", ErrFileTooLarge
	}
	if len(data) == 0 {
		return "", ErrUnsupportedImage
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", ErrUnsupportedImage
	}

	// Decode to confirm the payload really is an image, not just a
	// file with image magic bytes.
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", ErrUnsupportedImage
	}

	name := businessID.String() + ext
	target := filepath.Join(s.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write logo: %w", err)
	}

	// A business switching between jpg and png leaves the old file behind;
	// remove the sibling extension so only one variant survives.
	for _, otherExt := range allowedImageTypes {
		if otherExt != ext {
			_ = os.Remove(filepath.Join(s.dir, businessID.String()+otherExt))
		}
	}

	return path.Join(s.publicBase, name), nil
}

// Dir returns the base directory, used to mount a static file server.
func (s *LocalLogoStore) Dir() string {
	return s.dir
}
