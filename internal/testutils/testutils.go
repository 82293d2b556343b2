//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// ShardHeader is the header line of generated shards.
const ShardHeader = "timestamp,mac,cpu,ram_gb,ram_percent,disk_percent\n"

// GenerateShard returns a CSV shard with a header and rows data rows, one
// per second from start. Values are deterministic and within range.
func GenerateShard(start time.Time, mac string, rows int) string {
	var b strings.Builder
	b.WriteString(ShardHeader)
	for i := 0; i < rows; i++ {
		ts := start.Add(time.Duration(i) * time.Second).Format("02/01/2006 15:04:05")
		fmt.Fprintf(&b, "%s,%s,%d.%d,%.1f,%d,%d\n",
			ts, mac, i%100, i%10, 3.5, (i*7)%101, 1000+i)
	}
	return b.String()
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Endpoint  string
	AccessKey string
	SecretKey string
}

// BucketURL returns the gocloud S3 URL of bucket on this Minio instance.
func (e *MinioEnv) BucketURL(bucket string) string {
	return fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucket,
		e.Endpoint,
	)
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to bucket.
func (e *MinioEnv) OpenBucket(ctx context.Context, bucket string) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL(bucket))
}

// Seed writes objects (key to body) into bucket.
func (e *MinioEnv) Seed(t *testing.T, ctx context.Context, bucket string, objects map[string]string) {
	t.Helper()

	b, err := e.OpenBucket(ctx, bucket)
	if err != nil {
		t.Fatalf("open bucket %s: %v", bucket, err)
	}
	defer b.Close()

	for key, body := range objects {
		if err := b.WriteAll(ctx, key, []byte(body), &blob.WriterOptions{ContentType: "text/csv"}); err != nil {
			t.Fatalf("seed %s/%s: %v", bucket, key, err)
		}
	}
}

// ReadObject returns the contents of key in bucket.
func (e *MinioEnv) ReadObject(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()

	b, err := e.OpenBucket(ctx, bucket)
	if err != nil {
		t.Fatalf("open bucket %s: %v", bucket, err)
	}
	defer b.Close()

	data, err := b.ReadAll(ctx, key)
	if err != nil {
		t.Fatalf("read %s/%s: %v", bucket, key, err)
	}
	return data
}

// StartMinioContainer starts a Minio container with the given buckets
// pre-created. AWS credentials are exported for the duration of the test.
func StartMinioContainer(t *testing.T, ctx context.Context, buckets ...string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketsWithMC(t, ctx, networkName, accessKey, secretKey, buckets)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	// gocloud reads credentials from the environment
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketsWithMC creates buckets using a separate minio/mc container.
func createBucketsWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey string, buckets []string) {
	t.Helper()

	script := fmt.Sprintf("/usr/bin/mc config host add myminio http://minio:9000 %s %s", accessKey, secretKey)
	for _, b := range buckets {
		script += fmt.Sprintf(" && /usr/bin/mc mb myminio/%s", b)
	}
	script += "; exit 0"

	// mc container runs, creates the buckets, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd:        []string{script},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}
