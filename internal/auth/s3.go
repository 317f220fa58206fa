package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the part of the S3 client the key source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client creates an S3 client for an S3-compatible endpoint. Static
// credentials are used when both halves are set; otherwise the default
// AWS credential chain applies.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// keyDocument is the JSON layout of the key list object.
type keyDocument struct {
	APIKeys []struct {
		Key     string `json:"key"`
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	} `json:"api_keys"`
}

// S3Source reads the API key list from one S3 object, re-downloading it only
// when its ETag changes.
type S3Source struct {
	client ObjectGetter
	bucket string
	key    string
	logger *slog.Logger

	mu   sync.Mutex
	etag string
}

// NewS3Source creates a source for bucket/key.
func NewS3Source(client ObjectGetter, bucket, key string, logger *slog.Logger) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key, logger: logger}
}

// Fetch returns the enabled keys. changed is false when the object is
// unchanged since the last fetch, in which case keys is nil. A missing
// object is an empty list.
func (s *S3Source) Fetch(ctx context.Context) (keys []string, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if s.etag != "" {
		input.IfNoneMatch = aws.String(`"` + s.etag + `"`)
	}

	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			s.logger.Debug("S3 key list not found", "bucket", s.bucket, "key", s.key)
			changed = s.etag != ""
			s.etag = ""
			return []string{}, changed, nil
		}

		var notModified interface{ ErrorCode() string }
		if errors.As(err, &notModified) && notModified.ErrorCode() == "NotModified" {
			s.logger.Debug("S3 key list unchanged", "etag", s.etag)
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to fetch S3 key list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var doc keyDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse S3 key list: %w", err)
	}

	keys = make([]string, 0, len(doc.APIKeys))
	for _, k := range doc.APIKeys {
		if k.Enabled && strings.TrimSpace(k.Key) != "" {
			keys = append(keys, strings.TrimSpace(k.Key))
		}
	}

	if resp.ETag != nil {
		s.etag = strings.Trim(*resp.ETag, `"`)
	}
	s.logger.Info("API keys loaded from S3", "key_count", len(keys), "etag", s.etag)
	return keys, true, nil
}
