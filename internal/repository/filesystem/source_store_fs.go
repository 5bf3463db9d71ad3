// Package filesystem keeps import sources on local disk. It backs uploads when
// object storage is not configured and serves as the degraded read path.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

type SourceStore struct {
	root string
}

func NewSourceStore(root string) *SourceStore {
	return &SourceStore{root: root}
}

func (s *SourceStore) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	path, err := s.resolve(objectName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", objectName, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", objectName, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return objectName, nil
}

// Open reads key relative to the root. When the exact path is missing it scans
// the key's tenant directory for a file with the same base name. The scan never
// leaves that directory.
func (s *SourceStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	found, err := s.scan(ctx, s.scanRoot(key, path), filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return os.Open(found)
}

// scanRoot is imports/<tenant> for session keys and the key's own directory
// for anything else.
func (s *SourceStore) scanRoot(key, resolved string) string {
	parts := strings.Split(strings.Trim(filepath.ToSlash(filepath.Clean("/"+strings.TrimSpace(key))), "/"), "/")
	if len(parts) >= 4 && parts[0] == "imports" {
		return filepath.Join(s.root, parts[0], parts[1])
	}
	return filepath.Dir(resolved)
}

func (s *SourceStore) scan(ctx context.Context, dir, base string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && d.Name() == base {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ports.ErrObjectNotFound, base)
	}
	return found, nil
}

func (s *SourceStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("%w: empty key", ports.ErrObjectNotFound)
	}
	return filepath.Join(s.root, clean), nil
}

var (
	_ ports.ObjectStorage = (*SourceStore)(nil)
	_ ports.SourceStore   = (*SourceStore)(nil)
)
