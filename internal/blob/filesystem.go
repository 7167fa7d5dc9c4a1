package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore writes objects beneath a local directory. The HTTP layer
// serves that directory at the configured public base URL.
type FilesystemStore struct {
	root      string
	publicURL string
}

// NewFilesystemStore prepares root for writes.
func NewFilesystemStore(root, publicBaseURL string) (*FilesystemStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob: root directory is required")
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemStore{root: absolute, publicURL: publicBaseURL}, nil
}

// Root returns the absolute directory objects are written to.
func (s *FilesystemStore) Root() string {
	return s.root
}

func (s *FilesystemStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	temporary, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return "", err
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return "", err
	}
	if err := os.Rename(temporary.Name(), target); err != nil {
		os.Remove(temporary.Name())
		return "", err
	}
	return PublicURL(s.publicURL, objectPath), nil
}

func (s *FilesystemStore) resolve(objectPath string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimSpace(objectPath))
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	target := filepath.Join(s.root, cleaned)
	relative, err := filepath.Rel(s.root, target)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return target, nil
}
