package ports

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error)
}

// SourceStore opens previously stored source files by key.
type SourceStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
