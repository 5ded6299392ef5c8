package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/apibara/dna/internal/dnaerr"
)

// S3Store implements Store on top of aws-sdk-go-v2, the object store
// backend the reference implementation treats as primary.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store for target, a bare bucket name, loading
// credentials and region from the process environment the same way the
// teacher's node bootstraps its clients from ambient configuration.
func NewS3Store(ctx context.Context, target string) (*S3Store, error) {
	bucket := strings.TrimSuffix(target, "/")
	if bucket == "" {
		return nil, dnaerr.New(dnaerr.Configuration, "objectstore: s3 target must be a bucket name")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "objectstore: load aws config")
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Store) Get(ctx context.Context, key string, opts GetOptions) ([]byte, ETag, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}
	if opts.MatchETag != "" {
		input.IfMatch = aws.String(string(opts.MatchETag))
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, "", wrapErr("get", key, classifyS3Error(err))
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", wrapErr("get", key, err)
	}
	return body, ETag(aws.ToString(out.ETag)), nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, opts PutOptions) (ETag, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	switch opts.Mode {
	case Create:
		input.IfNoneMatch = aws.String("*")
	case Update:
		input.IfMatch = aws.String(string(opts.MatchETag))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", wrapErr("put", key, classifyS3Error(err))
	}
	return ETag(aws.ToString(out.ETag)), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapErr("delete", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("list", prefix, classifyS3Error(err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// classifyS3Error maps known AWS error codes onto the store's sentinel
// errors so wrapErr can tag them with the right dnaerr.Kind.
func classifyS3Error(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		case "PreconditionFailed":
			return ErrPreconditionFailed
		}
	}
	return err
}

var _ Store = (*S3Store)(nil)
