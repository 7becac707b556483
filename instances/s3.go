package instances

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"rustfs-bench/bench"
)

// S3Invoker performs operations in-process with the AWS SDK against an
// S3-compatible endpoint.
type S3Invoker struct {
	client   *s3.Client
	endpoint Endpoint
}

// NewS3Invoker creates an invoker for the given endpoint. Requests use static
// credentials and path-style addressing.
func NewS3Invoker(ctx context.Context, endpoint Endpoint) (*S3Invoker, error) {
	region := endpoint.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(endpoint.AccessKey, endpoint.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint.URL)
		o.UsePathStyle = true
	})

	return &S3Invoker{
		client:   client,
		endpoint: endpoint,
	}, nil
}

// Invoke performs one request.
func (s3i *S3Invoker) Invoke(ctx context.Context, req bench.Request) bench.Result {
	start := time.Now()
	n, err := s3i.do(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return bench.Failed(elapsed, fmt.Errorf("%s %s: %w", req.Kind, req.Key, err))
	}
	return bench.Succeeded(elapsed, n)
}

func (s3i *S3Invoker) do(ctx context.Context, req bench.Request) (int64, error) {
	switch req.Kind {
	case bench.KindPut, bench.KindBatch:
		return s3i.upload(ctx, req.Key, req.LocalPath)
	case bench.KindGet:
		return s3i.download(ctx, req.Key, req.LocalPath)
	case bench.KindList:
		return 0, s3i.list(ctx, req.Key)
	case bench.KindDelete:
		return 0, s3i.remove(ctx, req.Key)
	default:
		return 0, fmt.Errorf("unsupported operation kind: %s", req.Kind)
	}
}

// upload puts a local file under objectKey.
func (s3i *S3Invoker) upload(ctx context.Context, objectKey, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open payload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat payload: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s3i.endpoint.Bucket),
		Key:    aws.String(objectKey),
		Body:   file,
	}

	if _, err := s3i.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("failed to upload object: %w", err)
	}

	return info.Size(), nil
}

// download writes objectKey to a local file.
func (s3i *S3Invoker) download(ctx context.Context, objectKey, path string) (int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s3i.endpoint.Bucket),
		Key:    aws.String(objectKey),
	}

	result, err := s3i.client.GetObject(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Body.Close()

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create download file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, result.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read object body: %w", err)
	}

	return n, nil
}

func (s3i *S3Invoker) list(ctx context.Context, prefix string) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3i.endpoint.Bucket),
		Prefix: aws.String(prefix),
	}

	paginator := s3.NewListObjectsV2Paginator(s3i.client, input)
	for paginator.HasMorePages() {
		if _, err := paginator.NextPage(ctx); err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
	}
	return nil
}

func (s3i *S3Invoker) remove(ctx context.Context, objectKey string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s3i.endpoint.Bucket),
		Key:    aws.String(objectKey),
	}

	if _, err := s3i.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// CreateBucket creates the bucket. A bucket that already exists and is owned
// by the caller is not an error.
func (s3i *S3Invoker) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(s3i.endpoint.Bucket),
	}

	_, err := s3i.client.CreateBucket(ctx, input)
	if err == nil {
		return nil
	}

	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" {
		return nil
	}

	return fmt.Errorf("failed to create bucket %s: %w", s3i.endpoint.Bucket, err)
}
