// Package artifactstore uploads screenshots to an S3-compatible (MinIO)
// bucket for retention beyond a session's local logs/ directory. It is
// optional and best-effort: a session logs and broadcasts normally
// whether or not a store is configured, and an upload failure here never
// fails the action it is archiving.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/qorvex/qorvex-host/pkg/log"
)

// Config configures the MinIO/S3 backend.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Store uploads screenshots keyed by session id and action-log id.
type Store struct {
	client *minio.Client
	bucket string
	logger log.Logger
}

// New constructs a Store from cfg. It does not verify connectivity or
// create the bucket; call EnsureBucket for that.
func New(cfg Config, logger log.Logger) (*Store, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifactstore: create client: %w", err)
	}

	return &Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifactstore: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: ""}); err != nil {
		return fmt.Errorf("artifactstore: create bucket: %w", err)
	}
	return nil
}

// objectKey builds the {session_id}/{action_log_id}.png key a caller
// can attach to an ActionLog's data payload.
func objectKey(sessionID string, actionLogID uint64) string {
	return fmt.Sprintf("%s/%d.png", sessionID, actionLogID)
}

// Upload stores data under the session/action-log key and returns the
// object key. Callers treat a non-nil error as "archival failed" and
// continue without failing the action that produced the screenshot.
func (s *Store) Upload(ctx context.Context, sessionID string, actionLogID uint64, data []byte) (string, error) {
	key := objectKey(sessionID, actionLogID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("artifactstore: upload %s: %w", key, err)
	}
	return key, nil
}

// UploadAsync uploads data on a background goroutine, logging (not
// propagating) any failure. This is the path Session.LogAction uses so
// screenshot archival never blocks or fails the primary logging path.
func (s *Store) UploadAsync(sessionID string, actionLogID uint64, data []byte, onSuccess func(key string)) {
	go func() {
		key, err := s.Upload(context.Background(), sessionID, actionLogID, data)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("artifactstore: async upload failed")
			return
		}
		if onSuccess != nil {
			onSuccess(key)
		}
	}()
}

// HealthCheck verifies the backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("artifactstore: health check: %w", err)
	}
	return nil
}
