package core

import (
	"context"
	"io"
)

// BlobStore stores uploaded files (assignment attachments, sign-language videos, chat files).
type BlobStore interface {
	Upload(ctx context.Context, bucket, filename string, r io.Reader) (blobID string, err error)
	Download(ctx context.Context, bucket, blobID string) (io.ReadCloser, error)
	PreviewURL(bucket, blobID string) (string, error)
}
