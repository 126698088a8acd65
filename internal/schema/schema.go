// Package schema loads the database schema text that every prompt embeds.
package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/querybridge/querybridge/internal/storage"
)

// MaxBytes caps schema text so an accidental large object cannot be pasted
// into every prompt.
const MaxBytes = 1 << 20

var ErrEmptySchema = errors.New("schema is empty")

type Source interface {
	Load(ctx context.Context) (string, error)
}

type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("open schema file %q: %w", f.Path, err)
	}
	defer func() { _ = file.Close() }()
	return read(file, f.Path)
}

type ObjectSource struct {
	Store storage.ObjectStore
	Key   string
}

func (o ObjectSource) Load(ctx context.Context) (string, error) {
	if o.Store == nil {
		return "", fmt.Errorf("object store is required for schema key %q", o.Key)
	}
	info, err := o.Store.Stat(ctx, o.Key)
	if err != nil {
		return "", fmt.Errorf("stat schema object %q: %w", o.Key, err)
	}
	if info.Size > MaxBytes {
		return "", fmt.Errorf("schema object %q is %d bytes, limit is %d", o.Key, info.Size, MaxBytes)
	}
	reader, err := o.Store.Get(ctx, o.Key)
	if err != nil {
		return "", fmt.Errorf("get schema object %q: %w", o.Key, err)
	}
	defer func() { _ = reader.Close() }()
	return read(reader, o.Key)
}

// NewSource prefers the object key when both are configured.
func NewSource(path, objectKey string, store storage.ObjectStore) (Source, error) {
	switch {
	case strings.TrimSpace(objectKey) != "":
		return ObjectSource{Store: store, Key: strings.TrimSpace(objectKey)}, nil
	case strings.TrimSpace(path) != "":
		return FileSource{Path: strings.TrimSpace(path)}, nil
	default:
		return nil, fmt.Errorf("schema path or object key is required")
	}
}

func read(reader io.Reader, name string) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(reader, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read schema %q: %w", name, err)
	}
	if len(raw) > MaxBytes {
		return "", fmt.Errorf("schema %q exceeds %d bytes", name, MaxBytes)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrEmptySchema)
	}
	return string(raw), nil
}
