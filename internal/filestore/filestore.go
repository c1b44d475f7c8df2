// Package filestore keeps uploaded files (module material, assignment
// attachments, submissions and avatars) on local disk or in an S3 bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that would escape the store.
var ErrInvalidKey = errors.New("invalid object key")

// Store puts, reads and deletes objects by key.
type Store interface {
	Put(ctx context.Context, prefix, name string, r io.Reader, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns the objects below prefix in no particular order.
	List(ctx context.Context, prefix string) ([]Object, error)
	URL(key string) string
}

// Object describes a stored object.
type Object struct {
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func newObject(key string, size int64, modified time.Time) Object {
	return Object{Key: key, Name: path.Base(key), Size: size, Modified: modified}
}

// Newest sorts objects by modification time, newest first, and keeps at
// most limit of them. A limit of zero keeps all.
func Newest(objects []Object, limit int) []Object {
	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].Modified.Equal(objects[j].Modified) {
			return objects[i].Key < objects[j].Key
		}
		return objects[i].Modified.After(objects[j].Modified)
	})
	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}
	return objects
}

// NewKey returns a fresh object key of the form prefix/<uuid>/<name>. The
// name is reduced to its base element.
func NewKey(prefix, name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		name = "file"
	}
	return path.Join(prefix, uuid.NewString(), name)
}

// CleanKey validates a key received from a client.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}
