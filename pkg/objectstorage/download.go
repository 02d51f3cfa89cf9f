package objectstorage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/valyala/gozstd"
)

// Get reads the object at key, transparently decompressing archives.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if aws.StringValue(resp.ContentEncoding) == encodingZstd {
		data, err = gozstd.Decompress(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	}
	return data, nil
}
