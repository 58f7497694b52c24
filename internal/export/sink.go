package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Sink stores an exported blob and reports where it went.
type Sink interface {
	Save(ctx context.Context, sessionID string, b Blob) (string, error)
}

// DirSink writes blobs into a local directory.
type DirSink struct {
	Dir string
}

// Save writes b to Dir/b.Name, replacing any earlier export of that format.
func (s DirSink) Save(_ context.Context, _ string, b Blob) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	dst := filepath.Join(s.Dir, b.Name)
	tmp, err := os.CreateTemp(s.Dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod export: %w", err)
	}
	if _, err := tmp.Write(b.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move export: %w", err)
	}
	return dst, nil
}

// objectPutter is the part of *s3.Client the sink needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads blobs to <Prefix><sessionID>/<name> in Bucket.
type S3Sink struct {
	cli    objectPutter
	bucket string
	prefix string
}

// S3Config selects the bucket and, for emulators, a custom endpoint.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // MinIO/LocalStack; forces path-style addressing

	// Static credentials; empty uses the default AWS chain.
	AccessKey string
	SecretKey string
}

// NewS3Sink builds an S3 client from cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Sink(cli, cfg.Bucket, cfg.Prefix), nil
}

func newS3Sink(cli objectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{cli: cli, bucket: bucket, prefix: prefix}
}

// Save puts b into the bucket and returns its s3:// location.
func (s *S3Sink) Save(ctx context.Context, sessionID string, b Blob) (string, error) {
	key := path.Join(strings.TrimSuffix(s.prefix, "/"), sessionID, b.Name)
	key = strings.TrimPrefix(key, "/")

	_, err := s.cli.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(b.Data),
		ContentType:   aws.String(b.MediaType),
		ContentLength: aws.Int64(int64(len(b.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Save",
		"bucket":   s.bucket,
		"key":      key,
		"bytes":    len(b.Data),
	}).Info("Export uploaded")
	return "s3://" + s.bucket + "/" + key, nil
}

// SaveAll runs every sink and returns the locations that succeeded along
// with the first failure.
func SaveAll(ctx context.Context, sinks []Sink, sessionID string, b Blob) ([]string, error) {
	var locations []string
	var firstErr error
	for _, s := range sinks {
		loc, err := s.Save(ctx, sessionID, b)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SaveAll",
				"sink":     fmt.Sprintf("%T", s),
				"error":    err.Error(),
			}).Warn("Export sink failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		locations = append(locations, loc)
	}
	return locations, firstErr
}
