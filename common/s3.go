package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"feedtriage/logging"
	"feedtriage/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/charmbracelet/log"
)

// S3Config contains minimal configuration for creating an S3 client.
// Values are optional and will fall back to the standard AWS config/credential chain.
type S3Config struct {
	// Bucket receives the archives. Required.
	Bucket string
	// Prefix is prepended to every key, e.g. "triage/".
	Prefix string
	// Region to use for requests, e.g. "us-east-1". If empty, AWS defaults apply.
	Region string
	// Profile selects a named shared config/credentials profile. If empty, default chain applies.
	Profile string
	// UsePathStyle forces path-style addressing (useful for some S3-compatible providers).
	UsePathStyle bool
}

// objectAPI is the part of *s3.Client the archive uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 archives processed batches as JSON objects in a single bucket.
type S3 struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
	log    *log.Logger
}

// BatchArchive is the object written for each processed batch.
type BatchArchive struct {
	BatchID   string           `json:"batch_id"`
	CreatedAt time.Time        `json:"created_at"`
	Count     int              `json:"count"`
	Items     []types.NewsItem `json:"items"`
}

// NewS3 creates a new S3 archive using the default AWS configuration chain,
// with optional overrides from S3Config.
func NewS3(ctx context.Context, cfg S3Config, logger *log.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3(c, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3(client objectAPI, bucket, prefix string, logger *log.Logger) *S3 {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		log:    logging.OrDiscard(logger).WithPrefix("s3"),
	}
}

// Bucket returns the target bucket.
func (s *S3) Bucket() string { return s.bucket }

// BatchKey returns the object key a batch is archived under.
func (s *S3) BatchKey(batchID string, at time.Time) string {
	return s.prefix + path.Join("batches", at.UTC().Format("2006/01/02"), batchID+".json")
}

// ArchiveBatch writes items as one JSON object and returns its key. A batch
// already present under the same key is not rewritten.
func (s *S3) ArchiveBatch(ctx context.Context, batchID string, items []types.NewsItem) (string, error) {
	now := s.now().UTC()
	key := s.BatchKey(batchID, now)

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		s.log.Info("batch already archived", "key", key)
		return key, nil
	}

	body, err := json.Marshal(BatchArchive{
		BatchID:   batchID,
		CreatedAt: now,
		Count:     len(items),
		Items:     items,
	})
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	if err := s.Put(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Info("batch archived", "bucket", s.bucket, "key", key, "items", len(items))
	return key, nil
}

// Put uploads body to key. If contentType is non-empty, it is set on the object.
func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	_, err := s.client.PutObject(ctx, in)
	return err
}

// Get fetches the object at key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Exists returns true if the object exists (HTTP 200 from HeadObject); false if 404/NotFound.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var respErr *http.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}

	return false, err
}
