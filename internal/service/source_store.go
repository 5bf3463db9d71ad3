package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

type FallbackPolicy string

const (
	FallbackNever      FallbackPolicy = "never"
	FallbackOnNotFound FallbackPolicy = "on_not_found"
	FallbackOnAnyError FallbackPolicy = "on_any_error"

	defaultFallbackPolicy = FallbackOnNotFound
)

func ParseFallbackPolicy(raw string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(raw); p {
	case FallbackNever, FallbackOnNotFound, FallbackOnAnyError:
		return p, nil
	case "":
		return defaultFallbackPolicy, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q", raw)
}

// FallbackSourceStore reads from Primary and, when Policy allows it, retries
// the same key against Fallback.
type FallbackSourceStore struct {
	Primary  ports.SourceStore
	Fallback ports.SourceStore
	Policy   FallbackPolicy
	Logger   logrus.FieldLogger
}

func (s *FallbackSourceStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.Primary == nil {
		if s.Fallback == nil {
			return nil, fmt.Errorf("%w: no source store configured", ErrSourceUnavailable)
		}
		return s.Fallback.Open(ctx, key)
	}

	rc, err := s.Primary.Open(ctx, key)
	if err == nil {
		return rc, nil
	}
	if !s.shouldFallback(err) {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.WithError(err).WithField("source_key", key).Warn("primary source store failed, using fallback")
	}
	rc, fbErr := s.Fallback.Open(ctx, key)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return rc, nil
}

func (s *FallbackSourceStore) shouldFallback(err error) bool {
	if s.Fallback == nil {
		return false
	}
	switch s.Policy {
	case FallbackOnAnyError:
		return true
	case FallbackOnNotFound, "":
		return errors.Is(err, ports.ErrObjectNotFound)
	}
	return false
}

var _ ports.SourceStore = (*FallbackSourceStore)(nil)
