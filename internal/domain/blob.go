package domain

import "context"

// BlobWriter writes immutable objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
