package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/apibara/dna/internal/dnaerr"
)

// AzureStore implements Store on Azure Blob Storage, the second cloud
// backend the reference implementation's object_store layer supports
// alongside S3.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore builds an AzureStore for target, formatted as
// "account/container". Credentials are resolved from the environment via
// azcore's default credential chain.
func NewAzureStore(_ context.Context, target string) (*AzureStore, error) {
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, dnaerr.New(dnaerr.Configuration, "objectstore: azure target must be account/container")
	}
	account, containerName := parts[0], parts[1]

	cred, err := azblob.NewSharedKeyCredential(account, "")
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "objectstore: azure shared key credential")
	}
	client, err := azblob.NewClientWithSharedKeyCredential(
		"https://"+account+".blob.core.windows.net/", cred, nil)
	if err != nil {
		return nil, dnaerr.Wrap(dnaerr.Configuration, err, "objectstore: azure client")
	}
	return &AzureStore{client: client, container: containerName}, nil
}

func (s *AzureStore) Get(ctx context.Context, key string, opts GetOptions) ([]byte, ETag, error) {
	options := &azblob.DownloadStreamOptions{}
	if opts.MatchETag != "" {
		tag := azcore.ETag(opts.MatchETag)
		options.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &tag},
		}
	}
	resp, err := s.client.DownloadStream(ctx, s.container, key, options)
	if err != nil {
		return nil, "", wrapErr("get", key, classifyAzureError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", wrapErr("get", key, err)
	}
	return body, ETag(string(*resp.ETag)), nil
}

func (s *AzureStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) (ETag, error) {
	options := &azblob.UploadBufferOptions{}
	switch opts.Mode {
	case Create:
		none := azcore.ETagAny
		options.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &none},
		}
	case Update:
		tag := azcore.ETag(opts.MatchETag)
		options.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &tag},
		}
	}

	resp, err := s.client.UploadBuffer(ctx, s.container, key, body, options)
	if err != nil {
		return "", wrapErr("put", key, classifyAzureError(err))
	}
	return ETag(string(*resp.ETag)), nil
}

func (s *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !errors.Is(classifyAzureError(err), ErrNotFound) {
		return wrapErr("delete", key, classifyAzureError(err))
	}
	return nil
}

func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := s.client.NewListBlobsFlatPager(s.container, &container.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("list", prefix, classifyAzureError(err))
		}
		for _, item := range page.Segment.BlobItems {
			keys = append(keys, *item.Name)
		}
	}
	return keys, nil
}

func classifyAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.ErrorCode {
		case "BlobNotFound":
			return ErrNotFound
		case "ConditionNotMet", "BlobAlreadyExists":
			return ErrPreconditionFailed
		}
	}
	return err
}

var _ Store = (*AzureStore)(nil)
