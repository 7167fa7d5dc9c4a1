package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig describes the Aliyun OSS bucket images are uploaded to.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// PublicBaseURL overrides the default bucket URL, e.g. a CDN domain.
	PublicBaseURL string
}

// OSSStore uploads objects to an Aliyun OSS bucket.
type OSSStore struct {
	bucket    *oss.Bucket
	publicURL string
}

// NewOSSStore connects to the configured bucket.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, oss.Timeout(10, 60))
	if err != nil {
		return nil, fmt.Errorf("blob: create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: open oss bucket %s: %w", cfg.Bucket, err)
	}

	publicURL := strings.TrimSpace(cfg.PublicBaseURL)
	if publicURL == "" {
		publicURL = bucketURL(cfg.Endpoint, cfg.Bucket)
	}
	return &OSSStore{bucket: bucket, publicURL: publicURL}, nil
}

func (s *OSSStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(objectPath), "/")
	if key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	options := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		options = append(options, oss.ContentType(contentType))
	}
	if err := s.bucket.PutObject(key, bytes.NewReader(data), options...); err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	return PublicURL(s.publicURL, key), nil
}

// bucketURL derives the virtual-hosted bucket URL from an OSS endpoint.
func bucketURL(endpoint, bucket string) string {
	scheme := "https"
	host := strings.TrimSpace(endpoint)
	if before, after, ok := strings.Cut(host, "://"); ok {
		scheme = before
		host = after
	}
	host = strings.TrimRight(host, "/")
	return fmt.Sprintf("%s://%s.%s", scheme, bucket, host)
}
