// Package storage keeps public files such as avatars in a local directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for keys that escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// Local stores files under a directory and serves them below a URL prefix.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", ErrInvalidKey
	}
	return filepath.Join(l.dir, filepath.FromSlash(clean)), nil
}

// Put writes r under key, replacing any existing file, and returns its public URL.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return l.URL(key), nil
}

// Delete removes key. Missing files are not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// URL returns the public URL of key.
func (l *Local) URL(key string) string {
	return l.baseURL + "/" + key
}

// KeyFromURL maps a public URL produced by URL back to its key.
func (l *Local) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, l.baseURL+"/")
	if !ok {
		return "", false
	}
	if _, err := l.path(key); err != nil {
		return "", false
	}
	return key, true
}

// Handler serves stored files. Mount it at the base URL.
func (l *Local) Handler() http.Handler {
	return http.StripPrefix(l.baseURL, http.FileServer(http.Dir(l.dir)))
}
