package objectstorage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/valyala/gozstd"
)

// Exists reports whether key is present in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

// Put stores data as-is.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutArchive stores a raw RFC 5322 message, zstd compressed when enabled.
// The key is unchanged either way so existence checks stay exact.
func (c *Client) PutArchive(ctx context.Context, key string, raw []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("message/rfc822"),
	}
	if c.compress {
		input.Body = bytes.NewReader(gozstd.Compress(nil, raw))
		input.ContentEncoding = aws.String(encodingZstd)
	} else {
		input.Body = bytes.NewReader(raw)
	}
	if _, err := c.s3.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("put archive %s: %w", key, err)
	}
	return nil
}
