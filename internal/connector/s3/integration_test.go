package s3

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DATALOAD_TEST_S3_ENDPOINT="http://localhost:9000" selects a live MinIO;
// credentials default to minioadmin/minioadmin.
func integrationEndpoint(t *testing.T) (endpoint, access, secret string) {
	t.Helper()
	endpoint = os.Getenv("DATALOAD_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping integration test: DATALOAD_TEST_S3_ENDPOINT not set")
	}
	access = os.Getenv("DATALOAD_TEST_S3_ACCESS_KEY")
	if access == "" {
		access = "minioadmin"
	}
	secret = os.Getenv("DATALOAD_TEST_S3_SECRET_KEY")
	if secret == "" {
		secret = "minioadmin"
	}
	return endpoint, access, secret
}

func TestIntegrationBucketWalk(t *testing.T) {
	endpoint, access, secret := integrationEndpoint(t)
	ctx := context.Background()

	bucket := fmt.Sprintf("dataload-test-%d", time.Now().UnixNano())

	host, secure, err := resolveEndpoint(endpoint, false)
	require.NoError(t, err)
	raw, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: secure,
	})
	require.NoError(t, err)
	require.NoError(t, raw.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	t.Cleanup(func() {
		cctx := context.Background()
		for obj := range raw.ListObjects(cctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err == nil {
				_ = raw.RemoveObject(cctx, bucket, obj.Key, minio.RemoveObjectOptions{})
			}
		}
		_ = raw.RemoveBucket(cctx, bucket)
	})

	put := func(key string, body []byte) {
		t.Helper()
		_, err := raw.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
		require.NoError(t, err)
	}
	put("2025-04-13-22/products/part-0000.snappy.parquet", []byte("stale"))
	put("2025-04-14-09/products/part-0000.snappy.parquet", []byte("fresh"))
	put("2025-04-14-09/products/_SUCCESS", nil)
	put("2025-04-14-09/vendors/part-0000.parquet", []byte("v"))
	put("archive/readme.txt", []byte("x"))

	client, err := New(Config{
		Bucket:          bucket,
		AccessKeyID:     access,
		SecretAccessKey: secret,
		Endpoint:        endpoint,
	}, WithLogger(discardLogger()))
	require.NoError(t, err)

	latest, err := client.LatestPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-14-09/", latest)

	folders, err := client.EntityFolders(ctx, latest)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-14-09/products/", "2025-04-14-09/vendors/"}, folders)

	files, err := client.DataFiles(ctx, folders[0])
	require.NoError(t, err)
	require.Equal(t, []string{"2025-04-14-09/products/part-0000.snappy.parquet"}, files,
		"only parquet objects are listed")

	data, err := client.Download(ctx, files[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)

	buckets, err := client.Buckets(ctx)
	require.NoError(t, err)
	assert.Contains(t, buckets, bucket)

	_, err = client.Download(ctx, "2025-04-14-09/products/missing.parquet")
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeObjectNotFound, se.Code)
}
