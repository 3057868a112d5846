package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"course-credentials/internal/config"
)

const pdfContentType = "application/pdf"

// S3Persister uploads certificates as public-read PDFs.
type S3Persister struct {
	client       *s3.Client
	bucket       string
	publicDomain string
}

// NewS3Persister builds the S3 client from config.
func NewS3Persister(ctx context.Context, cfg config.Config) (*S3Persister, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("AWS_S3_BUCKET is not configured")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	domain := cfg.S3PublicDomain
	if domain == "" {
		domain = "s3.amazonaws.com"
	}
	return &S3Persister{client: client, bucket: cfg.S3Bucket, publicDomain: domain}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	// Explicit keys win over the default chain.
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3ClientFromConfig(awsCfg, cfg.S3Endpoint, cfg.S3PathStyle), nil
}

func newS3ClientFromConfig(awsCfg aws.Config, endpoint string, pathStyle bool) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
}

// Persist uploads content under {name}.pdf and returns the derived public URL.
func (s *S3Persister) Persist(ctx context.Context, content []byte, name string) (string, error) {
	key := ObjectKey(name)
	if strings.TrimSpace(name) == "" {
		return "", &StoreWriteError{Key: key, Err: errors.New("artifact name is required")}
	}
	if len(content) == 0 {
		return "", &StoreWriteError{Key: key, Err: errors.New("artifact is empty")}
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ACL:         types.ObjectCannedACLPublicRead,
		ContentType: aws.String(pdfContentType),
	})
	if err != nil {
		status := 0
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
		}
		return "", &StoreWriteError{Key: key, Status: status, Err: fmt.Errorf("put object: %w", err)}
	}
	return PublicURL(s.bucket, s.publicDomain, name), nil
}
