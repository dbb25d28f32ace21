// Package media validates uploaded files and writes them to the blob store.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"

	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
)

// BlobStore is the object storage surface uploads need.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// File is one incoming upload. Size is what the client declared or the
// multipart header reported; the body is also capped while reading.
type File struct {
	Name string
	Size int64
	Body io.Reader
}

// Stored describes a blob that was written.
type Stored struct {
	Key         string
	ContentType string
	Size        int64
}

// Service writes validated uploads and undoes them when the caller's follow-up
// write fails.
type Service struct {
	blob    BlobStore
	limits  map[Kind]int64
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
}

// NewService builds the upload service. limits maps each kind to its byte ceiling.
func NewService(blob BlobStore, limits map[Kind]int64, m *metrics.LifecycleMetrics, logg *logger.Logger) (*Service, error) {
	if blob == nil {
		return nil, fmt.Errorf("blob store required")
	}
	for kind := range policies {
		if limits[kind] <= 0 {
			return nil, fmt.Errorf("upload limit for %s must be positive", kind)
		}
	}
	copied := make(map[Kind]int64, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Service{blob: blob, limits: copied, metrics: m, logg: logg}, nil
}

// Limit returns the byte ceiling for kind.
func (s *Service) Limit(kind Kind) int64 {
	return s.limits[kind]
}

// CheckSize rejects empty files and files above limit. A file of exactly limit
// bytes is accepted.
func CheckSize(size, limit int64) error {
	if size <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	if size > limit {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("file exceeds the %d byte limit", limit)).
			WithDetails(map[string]any{"size": size, "limit": limit})
	}
	return nil
}

// Save validates and writes file under key.
func (s *Service) Save(ctx context.Context, kind Kind, key string, file File) (*Stored, error) {
	limit, ok := s.limits[kind]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown upload kind %q", kind))
	}
	if err := CheckSize(file.Size, limit); err != nil {
		return nil, err
	}
	if file.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file body required")
	}

	// Read one byte past the limit so a lying size header is still caught.
	data, err := io.ReadAll(io.LimitReader(file.Body, limit+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if err := CheckSize(int64(len(data)), limit); err != nil {
		return nil, err
	}

	detected := mimetype.Detect(data)
	contentType := normalize(detected.String())
	if policy := policies[kind]; !policy.accepts(detected) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "only %s are accepted", policy.label).
			WithDetails(map[string]any{"content_type": contentType, "allowed": AllowedTypes(kind)})
	}

	if err := s.blob.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store file")
	}
	s.metrics.ObserveUpload(string(kind), int64(len(data)))
	return &Stored{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

// Compensate runs write and deletes the blob at key if write fails. The write
// error is returned; a failed delete is logged and folded into it.
func (s *Service) Compensate(ctx context.Context, key string, write func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	if delErr := s.blob.Delete(ctx, key); delErr != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "blob_key", key), "compensating blob delete failed", delErr)
		}
		return multierr.Append(err, delErr)
	}
	return err
}

// Remove deletes a blob that is no longer referenced.
func (s *Service) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.blob.Delete(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete file")
	}
	return nil
}

// URL returns a time-limited link for a private blob.
func (s *Service) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.blob.SignedURL(ctx, key, ttl)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign file url")
	}
	return url, nil
}

// PublicURL returns the unsigned link for a public blob.
func (s *Service) PublicURL(key string) string {
	return s.blob.PublicURL(key)
}

func normalize(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
