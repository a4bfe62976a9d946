package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/utils"
)

const DefaultS3Region = "us-east-1"

// S3Config configures delivery to an S3 compatible bucket (AWS, MinIO).
type S3Config struct {
	Bucket    string        `json:"bucket" mapstructure:"bucket"`
	Prefix    string        `json:"prefix,omitempty" mapstructure:"prefix"`
	Region    string        `json:"region,omitempty" mapstructure:"region"`
	Endpoint  string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string        `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string        `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Timeout   time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

// S3Uploader puts each artifact under <prefix>/<name>.
type S3Uploader struct {
	cfg    *S3Config
	client *s3.Client
}

var _ Uploader = (*S3Uploader)(nil)

func NewS3Uploader(ctx context.Context, cfg *S3Config) (*S3Uploader, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}

	region := cfg.Region
	if region == "" {
		region = DefaultS3Region
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		// buildable so AWS_CA_BUNDLE can add a private CA (self-hosted MinIO)
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{cfg: cfg, client: client}, nil
}

// EnsureReady checks that the bucket exists and is reachable with our credentials.
func (u *S3Uploader) EnsureReady(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.cfg.Bucket),
	})
	if err != nil {
		return fmt.Errorf("%w: head bucket %s: %w", ErrNotReady, u.cfg.Bucket, err)
	}
	return nil
}

func (u *S3Uploader) Upload(ctx context.Context, a *scanner.Artifact) error {
	file, err := os.Open(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, a.Path)
		}
		return fmt.Errorf("open %s: %w", a.Path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", a.Path, err)
	}

	key := u.Key(a.Name)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(a.MediaType),
		Metadata: map[string]string{
			"device-id":   utils.HWID,
			"captured-at": info.ModTime().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	slog.Debug("s3: object stored", "bucket", u.cfg.Bucket, "key", key, "size", info.Size())
	return nil
}

// Key returns the object key for an artifact name.
func (u *S3Uploader) Key(name string) string {
	if u.cfg.Prefix == "" {
		return name
	}
	return path.Join(u.cfg.Prefix, name)
}
