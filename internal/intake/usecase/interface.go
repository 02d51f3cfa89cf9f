package usecase

import (
	"context"

	"jobtrack-backend/pkg/imageproxy"
)

// ObjectStore is the blob storage used by intake.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutArchive(ctx context.Context, key string, raw []byte) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Forwarder re-sends a raw message to a real mailbox.
type Forwarder interface {
	Forward(ctx context.Context, raw []byte, recipient string) error
}

// ImageFetcher downloads remote images, normally through the image proxy.
type ImageFetcher interface {
	Fetch(ctx context.Context, src string) (*imageproxy.Image, error)
}

// RecordLookup reports whether records were already produced from a
// stored message.
type RecordLookup interface {
	ExistsBySource(ctx context.Context, sourceBlobRef string) (bool, error)
}
