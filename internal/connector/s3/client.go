// Package s3 implements the remote-store client for the dataload pipeline:
// partition discovery, entity folder listing and parquet object download
// against an S3-compatible object store.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint = "s3.amazonaws.com"
	defaultAttempts = 3

	// Remote call budget shared by every operation of one client.
	defaultRateLimit = rate.Limit(20)
	defaultRateBurst = 40
)

// Partition folders are named for the hour their data landed, for example
// "2025-04-14-09/".
var partitionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}/$`)

const partitionLayout = "2006-01-02-15"

// Config holds the connection settings for the object store.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // host[:port] or URL of a custom endpoint; empty selects AWS S3
	UseSSL          bool   // only consulted for scheme-less custom endpoints
}

// Client lists and downloads pipeline drop objects. Remote calls are rate
// limited, and retried with exponential backoff when the failure is
// classified as transient.
type Client struct {
	mc          *minio.Client
	bucket      string
	limiter     *rate.Limiter
	logger      *slog.Logger
	attempts    int
	backoffUnit time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRateLimit overrides the remote call budget.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// New connects a Client to the configured bucket.
func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint, secure, err := resolveEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint: %w", err)
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	c := &Client{
		mc:          mc,
		bucket:      cfg.Bucket,
		limiter:     rate.NewLimiter(defaultRateLimit, defaultRateBurst),
		logger:      slog.Default(),
		attempts:    defaultAttempts,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "s3", "bucket", cfg.Bucket)
	return c, nil
}

// resolveEndpoint maps the configured endpoint to the host and TLS flag
// minio-go expects. AWS S3 always goes over TLS.
func resolveEndpoint(raw string, useSSL bool) (string, bool, error) {
	if raw == "" {
		return defaultEndpoint, true, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("endpoint %q has no host", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, useSSL, nil
}

// LatestPartition returns the most recent dated partition prefix at the
// bucket root, with its trailing slash. An empty string means the bucket
// holds no partition folders.
func (c *Client) LatestPartition(ctx context.Context) (string, error) {
	prefixes, err := c.listPrefixes(ctx, "")
	if err != nil {
		return "", err
	}
	latest := latestPartition(prefixes, c.logger)
	if latest == "" {
		c.logger.Warn("no partition folders in bucket")
	}
	return latest, nil
}

// latestPartition picks the newest valid partition prefix. Prefixes that
// match the date shape but do not parse are skipped with a warning.
func latestPartition(prefixes []string, logger *slog.Logger) string {
	best := ""
	for _, p := range prefixes {
		if !partitionPattern.MatchString(p) {
			continue
		}
		if _, err := time.Parse(partitionLayout, strings.TrimSuffix(p, "/")); err != nil {
			logger.Warn("skipping malformed partition folder", "prefix", p)
			continue
		}
		// The zero-padded layout makes lexicographic order chronological.
		if p > best {
			best = p
		}
	}
	return best
}

// EntityFolders lists the entity subfolders of a partition, sorted by
// prefix.
func (c *Client) EntityFolders(ctx context.Context, partition string) ([]string, error) {
	return c.listPrefixes(ctx, partition)
}

// DataFiles lists the parquet objects under folder, sorted by key.
func (c *Client) DataFiles(ctx context.Context, folder string) ([]string, error) {
	var keys []string
	err := c.withRetry(ctx, "list "+c.bucket+"/"+folder, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		keys = keys[:0]
		for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
			Prefix:    folder,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			if isDataFile(obj.Key) {
				keys = append(keys, obj.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func isDataFile(key string) bool {
	return strings.HasSuffix(key, ".snappy.parquet") || strings.HasSuffix(key, ".parquet")
}

// Download fetches one object fully into memory.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "get "+c.bucket+"/"+key, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		b, err := io.ReadAll(obj)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("downloaded object", "key", key, "bytes", len(data))
	return data, nil
}

// Buckets lists the bucket names visible to the configured credentials.
func (c *Client) Buckets(ctx context.Context) ([]string, error) {
	var names []string
	err := c.withRetry(ctx, "list buckets", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		infos, err := c.mc.ListBuckets(ctx)
		if err != nil {
			return err
		}
		names = names[:0]
		for _, b := range infos {
			names = append(names, b.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// listPrefixes collects the immediate subfolder prefixes under prefix,
// sorted.
func (c *Client) listPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := c.withRetry(ctx, "list "+c.bucket+"/"+prefix, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out = out[:0]
		for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: false,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			if strings.HasSuffix(obj.Key, "/") && obj.Key != prefix {
				out = append(out, obj.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
