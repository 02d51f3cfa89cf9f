package usecase

import (
	"context"
)

// BlobReader loads stored message bytes by object key.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}
