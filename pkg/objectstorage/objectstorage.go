package objectstorage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"jobtrack-backend/pkg/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

const encodingZstd = "zstd"

// Client stores mail artifacts in a single S3-compatible bucket.
type Client struct {
	s3        s3iface.S3API
	bucket    string
	publicURL string
	compress  bool
}

// NewSession builds an AWS session from the object storage settings. Static
// credentials are used when configured, otherwise the default chain applies.
func NewSession(cfg *config.Config, region string) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(region),
	}
	if cfg.ObjectStorageEndpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.ObjectStorageEndpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.ObjectStorageAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.ObjectStorageAccessKey, cfg.ObjectStorageSecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return sess, nil
}

func NewS3Client(cfg *config.Config) (*Client, error) {
	sess, err := NewSession(cfg, cfg.ObjectStorageRegion)
	if err != nil {
		return nil, err
	}
	return New(s3.New(sess), cfg.ObjectStorageBucket, cfg.ObjectStoragePublicURL, cfg.CompressArchive), nil
}

func New(api s3iface.S3API, bucket, publicURL string, compress bool) *Client {
	return &Client{
		s3:        api,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		compress:  compress,
	}
}

// PublicURL returns the address a stored object is served from.
func (c *Client) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.publicURL + "/" + strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
