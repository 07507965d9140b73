// Package storage stores uploaded medical report files in an S3-compatible
// bucket, with a local-disk fallback so uploads keep working when the bucket
// is unreachable.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"medpilot/config"
)

// FileMetadata describes one stored report file.
type FileMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	PublicURL string    `json:"url"`
	Local     bool      `json:"local,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Uploader writes report files to MinIO/S3. When no endpoint is configured,
// or a bucket operation fails, files land in a local directory instead so the
// diagnosis flow is never blocked on object storage.
type Uploader struct {
	client   *minio.Client
	bucket   string
	localDir string
	logger   *log.Logger
}

// NewUploader connects to the configured bucket. An empty endpoint selects
// local-only mode, which is the demo default.
func NewUploader(cfg config.S3Config, logger *log.Logger) (*Uploader, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[UPLOADS] ", log.LstdFlags)
	}
	u := &Uploader{
		localDir: filepath.Join(os.TempDir(), "medpilot-uploads"),
		logger:   logger,
	}
	if cfg.Endpoint == "" {
		logger.Printf("no object storage configured, storing uploads under %s", u.localDir)
		return u, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	u.client = client
	u.bucket = cfg.Bucket

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err == nil && !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
	}
	if err != nil {
		logger.Printf("warn: bucket %s unavailable, falling back to local storage: %v", cfg.Bucket, err)
		u.client = nil
	}
	return u, nil
}

// Upload stores a report file and returns its metadata. The payload is
// buffered up front: a bucket transfer that dies mid-stream consumes the
// reader, and the local fallback must still write the complete file.
func (u *Uploader) Upload(ctx context.Context, userID, name, contentType string, r io.Reader) (*FileMetadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	meta := &FileMetadata{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      int64(len(data)),
		Type:      contentType,
		CreatedAt: time.Now().UTC(),
	}
	object := fmt.Sprintf("users/%s/%s%s", userID, meta.ID, filepath.Ext(name))

	if u.client != nil {
		_, err := u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(data), meta.Size, minio.PutObjectOptions{ContentType: contentType})
		if err == nil {
			meta.Path = object
			url, uerr := u.SignedURL(ctx, object)
			if uerr != nil {
				u.logger.Printf("warn: presigning %s failed: %v", object, uerr)
			}
			meta.PublicURL = url
			return meta, nil
		}
		u.logger.Printf("warn: upload of %s to bucket failed, storing locally: %v", object, err)
	}

	path, err := u.writeLocal(object, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	meta.Path = path
	meta.PublicURL = "file://" + path
	meta.Local = true
	return meta, nil
}

// SignedURL returns a time-limited download link for a bucket object. Local
// files get a file URL.
func (u *Uploader) SignedURL(ctx context.Context, object string) (string, error) {
	if u.client == nil {
		return "file://" + filepath.Join(u.localDir, filepath.FromSlash(object)), nil
	}
	url, err := u.client.PresignedGetObject(ctx, u.bucket, object, time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return url.String(), nil
}

// Delete removes a stored file. Missing local files are not an error.
func (u *Uploader) Delete(ctx context.Context, object string) error {
	if u.client != nil {
		return u.client.RemoveObject(ctx, u.bucket, object, minio.RemoveObjectOptions{})
	}
	err := os.Remove(filepath.Join(u.localDir, filepath.FromSlash(object)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (u *Uploader) writeLocal(object string, r io.Reader) (string, error) {
	path := filepath.Join(u.localDir, filepath.FromSlash(object))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}
