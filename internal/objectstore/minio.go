package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/apibara/dna/internal/dnaerr"
)

// MinioStore implements Store against any S3-compatible endpoint (MinIO,
// R2, self-hosted Ceph) via minio-go, which the reference implementation's
// deployment docs recommend for on-prem installs that don't want a managed
// cloud bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore builds a MinioStore for target formatted as
// "endpoint/bucket", with credentials from MINIO_ACCESS_KEY /
// MINIO_SECRET_KEY in the environment, consistent with the rest of the
// object store backends resolving credentials ambiently.
func NewMinioStore(ctx context.Context, target string) (*MinioStore, error) {
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, dnaerr.New(dnaerr.Configuration, "objectstore: minio target must be endpoint/bucket")
	}
	endpoint, bucket := parts[0], parts[1]

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewEnvMinio(),
		Secure: true,
	})
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "objectstore: minio client")
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "objectstore: minio bucket check")
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, dnaerr.Wrap(dnaerr.Temporary, err, "objectstore: minio create bucket")
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string, opts GetOptions) ([]byte, ETag, error) {
	getOpts := minio.GetObjectOptions{}
	if opts.MatchETag != "" {
		if err := getOpts.SetMatchETag(string(opts.MatchETag)); err != nil {
			return nil, "", wrapErr("get", key, err)
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, getOpts)
	if err != nil {
		return nil, "", wrapErr("get", key, classifyMinioError(err))
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", wrapErr("get", key, classifyMinioError(err))
	}
	info, err := obj.Stat()
	if err != nil {
		return nil, "", wrapErr("get", key, classifyMinioError(err))
	}
	return body, ETag(info.ETag), nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) (minioETag ETag, err error) {
	putOpts := minio.PutObjectOptions{}
	switch opts.Mode {
	case Create:
		// minio-go has no direct If-None-Match hook; emulate it by probing
		// existence first. This is not atomic across a true race, which is
		// acceptable for this backend (used for on-prem/dev deployments,
		// not as the sole coordination substrate).
		if _, statErr := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); statErr == nil {
			return "", wrapErr("put", key, ErrPreconditionFailed)
		}
	case Update:
		info, statErr := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if statErr != nil {
			return "", wrapErr("put", key, classifyMinioError(statErr))
		}
		if ETag(info.ETag) != opts.MatchETag {
			return "", wrapErr("put", key, ErrPreconditionFailed)
		}
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), putOpts)
	if err != nil {
		return "", wrapErr("put", key, classifyMinioError(err))
	}
	return ETag(info.ETag), nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return wrapErr("delete", key, classifyMinioError(err))
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, wrapErr("list", prefix, classifyMinioError(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func classifyMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return ErrNotFound
	case "PreconditionFailed":
		return ErrPreconditionFailed
	}
	return err
}

var _ Store = (*MinioStore)(nil)
