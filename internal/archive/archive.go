// Package archive retains raw uploaded files in object storage so an
// ingestion can be audited or replayed after the staged copy is gone.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Archiver files uploads under uploads/{namespace}/{table}/{timestamp}-{name}.
type Archiver struct {
	store ObjectStore
	now   func() time.Time
}

func New(store ObjectStore) *Archiver {
	return &Archiver{store: store, now: time.Now}
}

func (a *Archiver) SaveUpload(ctx context.Context, namespace, table, filename string, body io.Reader, size int64, contentType string) (string, error) {
	key, err := uploadKey(namespace, table, filename, a.now())
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, body, size, contentType); err != nil {
		return "", fmt.Errorf("archive upload %q: %w", key, err)
	}
	return key, nil
}

func (a *Archiver) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("fetch archive %q: %w", key, err)
	}
	return reader, nil
}

func uploadKey(namespace, table, filename string, now time.Time) (string, error) {
	if strings.TrimSpace(namespace) == "" || strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("namespace and table are required")
	}
	base := path.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	key := path.Join("uploads", namespace, table, fmt.Sprintf("%d-%s", now.Unix(), base))
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return key, nil
}
