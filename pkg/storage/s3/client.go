package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Client stores receipts, certificates and product images in one bucket.
type Client struct {
	api       *awss3.Client
	uploader  *manager.Uploader
	presigner *awss3.PresignClient
	bucket    string
	publicURL string
	signedTTL time.Duration
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds a client from the environment credential chain, or from static
// keys when they are configured (S3-compatible endpoints).
func New(ctx context.Context, cfg config.StorageConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	c := NewFromConfig(awsCfg, cfg)
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.Bucket), "blob store initialized")
	}
	return c, nil
}

// NewFromConfig wires a client around an already resolved aws.Config.
func NewFromConfig(awsCfg aws.Config, cfg config.StorageConfig) *Client {
	api := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	ttl := cfg.SignedURLExpiry
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Client{
		api:       api,
		uploader:  manager.NewUploader(api),
		presigner: awss3.NewPresignClient(api),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		signedTTL: ttl,
	}
}

// Put uploads body under key.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if c == nil || c.uploader == nil {
		return errors.New("blob store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("object key is required")
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.api == nil {
		return errors.New("blob store not initialized")
	}
	_, err := c.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the unauthenticated URL of key, used for product images.
func (c *Client) PublicURL(key string) string {
	if c == nil || key == "" {
		return ""
	}
	if c.publicURL != "" {
		return c.publicURL + "/" + escapeKey(key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucket, escapeKey(key))
}

// SignedURL returns a time-limited GET URL for key. A non-positive ttl uses the configured default.
func (c *Client) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c == nil || c.presigner == nil {
		return "", errors.New("blob store not initialized")
	}
	if ttl <= 0 {
		ttl = c.signedTTL
	}
	req, err := c.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Ping checks the bucket is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("blob store not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func escapeKey(key string) string {
	parts := strings.Split(path.Clean("/" + key)[1:], "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
