package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/pkg/logger"
)

// ObjectPutter is the part of the S3 client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Storage struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

type UploadResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// NewS3Storage builds a client from cfg. Without static credentials the
// default credential chain is used.
func NewS3Storage(cfg config.ReportConfig) *S3Storage {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg = aws.Config{
			Region: cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		}
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			logger.Warn("Failed to load default AWS config, using region only", map[string]interface{}{
				"error": err.Error(),
			})
			awsCfg = aws.Config{
				Region: cfg.Region,
			}
		}
	}

	return NewS3StorageWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix)
}

func NewS3StorageWithClient(client ObjectPutter, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Key returns a unique object key for filename under the prefix and the
// current UTC date
func (s *S3Storage) Key(filename string) string {
	return path.Join(
		s.prefix,
		s.now().UTC().Format("2006/01/02"),
		fmt.Sprintf("%s-%s", uuid.New().String(), path.Base(filename)),
	)
}

// Upload stores body under a fresh key derived from filename
func (s *S3Storage) Upload(ctx context.Context, filename, contentType string, body io.Reader) (*UploadResult, error) {
	if s.bucket == "" {
		return nil, fmt.Errorf("report bucket is not configured")
	}

	key := s.Key(filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        body,
	})
	if err != nil {
		logger.Error("Failed to upload object", err, map[string]interface{}{
			"bucket": s.bucket,
			"key":    key,
		})
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	logger.Info("Object uploaded", map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
	})
	return &UploadResult{
		Bucket: s.bucket,
		Key:    key,
		URL:    fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}
