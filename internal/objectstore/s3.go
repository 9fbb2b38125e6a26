// Package objectstore uploads finished datasets to an S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrExists is returned instead of overwriting an object.
var ErrExists = errors.New("object already exists")

// Config holds the bucket coordinates. Credentials come from the default
// AWS chain.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

// Uploader copies files into `<prefix>/<run id>/` of a bucket. Every run
// gets a fresh id, so runs never overwrite each other.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	runID  string
}

// New creates an uploader from cfg.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newUploader(client, cfg), nil
}

func newUploader(client *s3.Client, cfg Config) *Uploader {
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		runID:  uuid.NewString(),
	}
}

// RunID identifies this upload.
func (u *Uploader) RunID() string {
	return u.runID
}

// Key returns the object key for a path relative to the dataset directory.
func (u *Uploader) Key(rel string) string {
	return path.Join(u.prefix, u.runID, filepath.ToSlash(rel))
}

// PutFile uploads the file at local under rel. Existing objects are never
// overwritten.
func (u *Uploader) PutFile(ctx context.Context, local, rel string) (string, error) {
	key := u.Key(rel)
	if _, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &u.bucket, Key: &key}); err == nil {
		return "", fmt.Errorf("%w: s3://%s/%s", ErrExists, u.bucket, key)
	}

	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &u.bucket, Key: &key, Body: f}); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}

// UploadDir uploads every regular file below dir, in lexical order, and
// returns the object keys.
func (u *Uploader) UploadDir(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)

	keys := make([]string, 0, len(files))
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return keys, err
		}
		key, err := u.PutFile(ctx, p, rel)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
