// Package blob stores uploaded images and resolves their public URLs.
package blob

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidPath indicates an object path that is empty or escapes the store root.
	ErrInvalidPath = errors.New("blob: invalid object path")
)

// Store persists binary objects and returns the URL they are served from.
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
}

// PublicURL joins a public base URL and an object path with exactly one slash.
// An empty base yields a root-relative URL.
func PublicURL(baseURL, objectPath string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + "/" + strings.TrimLeft(objectPath, "/")
}
