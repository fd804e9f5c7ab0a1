// Package upload pushes local assets to S3-compatible object storage and
// assigns their public URLs. Records that already carry a remote URL pass
// through untouched: upload is monotonic across reruns.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
)

const defaultWorkers = 3

// ObjectPutter is the storage call the uploader needs; satisfied by
// *minio.Client and by test fakes.
type ObjectPutter interface {
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader pushes pending records to a bucket with bounded parallelism.
type Uploader struct {
	putter  ObjectPutter
	cfg     config.Storage
	workers int
	logger  *zap.Logger
}

// New builds an Uploader from the storage config. Missing credentials fail
// here, before any upload is attempted.
func New(cfg config.Storage, logger *zap.Logger) (*Uploader, error) {
	accessKey, secretKey, ok := config.StorageCredentials()
	if !ok {
		return nil, &domain.StorageError{Op: "init", Err: errors.New("missing WALLPIPE_ACCESS_KEY or WALLPIPE_SECRET_KEY")}
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "init", Err: err}
	}
	return &Uploader{putter: client, cfg: cfg, workers: defaultWorkers, logger: logger}, nil
}

// NewWithPutter wires a custom putter, mainly for tests.
func NewWithPutter(putter ObjectPutter, cfg config.Storage, logger *zap.Logger) *Uploader {
	return &Uploader{putter: putter, cfg: cfg, workers: defaultWorkers, logger: logger}
}

// WithWorkers overrides the concurrency ceiling, mainly for tests.
func (u *Uploader) WithWorkers(n int) *Uploader {
	if n > 0 {
		u.workers = n
	}
	return u
}

// Upload returns a new slice; inputs are never mutated. Records with a
// remote URL pass through unchanged, original timestamp included. One
// record's failure does not cancel siblings already in flight, but the
// first error is propagated so the caller can abort the save.
func (u *Uploader) Upload(ctx context.Context, records []domain.PipelineRecord, now func() time.Time) ([]domain.PipelineRecord, error) {
	out := make([]domain.PipelineRecord, len(records))
	copy(out, records)

	jobs := make(chan int)
	errs := make(chan error, len(records))

	var wg sync.WaitGroup
	for w := 0; w < u.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rec, err := u.uploadOne(ctx, out[idx], now)
				if err != nil {
					u.logger.Warn("upload failed", zap.String("id", out[idx].ID), zap.Error(err))
					errs <- err
					continue
				}
				out[idx] = rec
			}
		}()
	}

	for idx := range out {
		if out[idx].RemoteURL != "" {
			continue
		}
		select {
		case jobs <- idx:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return nil, err
	}
	return out, nil
}

func (u *Uploader) uploadOne(ctx context.Context, rec domain.PipelineRecord, now func() time.Time) (domain.PipelineRecord, error) {
	filePath := rec.CompressedPath
	if filePath == "" {
		filePath = rec.LocalPath
	}
	key := objectKey(u.cfg.Folder, filePath)

	_, err := u.putter.FPutObject(ctx, u.cfg.Bucket, key, filePath, minio.PutObjectOptions{
		ContentType:  contentTypeForExt(rec.Ext),
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return rec, &domain.StorageError{Op: "put", Key: key, Err: err}
	}

	rec.RemoteURL = u.remoteURL(key)
	rec.UpdatedAt = now()
	u.logger.Info("uploaded asset", zap.String("id", rec.ID), zap.String("key", key))
	return rec, nil
}

func (u *Uploader) remoteURL(key string) string {
	scheme := "https"
	if !u.cfg.UseSSL {
		scheme = "http"
	}
	if u.cfg.ForcePathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, u.cfg.Endpoint, u.cfg.Bucket, key)
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, u.cfg.Bucket, u.cfg.Endpoint, key)
}

func objectKey(folder, filePath string) string {
	name := filepath.Base(filePath)
	if folder == "" {
		return name
	}
	return path.Join(filepath.ToSlash(folder), name)
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
