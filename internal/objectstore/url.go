package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseURL splits an s3://bucket/key source URL into bucket and object key.
func ParseURL(raw string) (bucket string, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse source url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: source url must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", fmt.Errorf("s3: source url missing bucket name")
	}
	key = strings.Trim(strings.TrimSpace(u.Path), "/")
	if key == "" {
		return "", "", fmt.Errorf("s3: source url missing object key")
	}
	return u.Host, key, nil
}

// FormatURL renders bucket and key as an s3:// URL for log lines.
func FormatURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

func normalizeEndpoint(endpoint string, useSSL bool) (host string, secure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("s3: endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("s3: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3: endpoint missing host")
	}
	return u.Host, u.Scheme == "https", nil
}
