package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3Config configures the S3 backend. Credentials come from the usual AWS
// environment variables or shared config.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible services
	PublicURL string // optional, overrides the bucket URL in links
}

// S3 stores objects in an S3 bucket.
type S3 struct {
	bucket    string
	publicURL string
	client    s3iface.S3API
	uploader  s3manageriface.UploaderAPI
}

// NewS3 creates an S3 backend from cfg.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return newS3(cfg.Bucket, publicURL, s3.New(sess), s3manager.NewUploader(sess)), nil
}

func newS3(bucket, publicURL string, client s3iface.S3API, uploader s3manageriface.UploaderAPI) *S3 {
	return &S3{
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		client:    client,
		uploader:  uploader,
	}
}

func (s *S3) Put(ctx context.Context, prefix, name string, r io.Reader, contentType string) (string, error) {
	key := NewKey(prefix, name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("failed to upload object", "bucket", s.bucket, "key", key, "error", err)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	slog.Debug("stored object", "key", key, "backend", "s3", "bucket", s.bucket)
	return key, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix, err := CleanKey(prefix)
	if err != nil {
		return nil, err
	}
	var objects []Object
	err = s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix + "/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			objects = append(objects, newObject(aws.StringValue(o.Key), aws.Int64Value(o.Size), aws.TimeValue(o.LastModified)))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return objects, nil
}

func (s *S3) URL(key string) string {
	return s.publicURL + "/" + key
}
