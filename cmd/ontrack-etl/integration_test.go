//go:build integration

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/ontracksystems/ontrack-etl/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "ontrack-raw", "ontrack-trusted")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	start := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	prefix := "garagem-01/" + readPath + "/"
	shardA := testutils.GenerateShard(start, "aa:bb", 100)
	// The second shard repeats the last 50 timestamps of the first and adds 50 new ones.
	shardB := testutils.GenerateShard(start.Add(50*time.Second), "aa:bb", 100)

	other := "garagem-02/ano=2025/mes=03/dia=07/hora=08/x.csv"
	minio.Seed(t, ctx, "ontrack-raw", map[string]string{
		prefix + "part-000.csv": shardA,
		prefix + "part-001.csv": shardB,
		other:                   shardA,
	})

	rawURL := minio.BucketURL("ontrack-raw")
	trustedURL := minio.BucketURL("ontrack-trusted")
	outputKey := "garagem-01/ano=2025/mes=03/dia=07/consolidado_09.csv"

	t.Run("run", func(t *testing.T) {
		t.Setenv("BUCKET_RAW", rawURL)
		t.Setenv("BUCKET_TRUSTED", trustedURL)

		exitCode := runRun([]string{
			"-partition", readPath,
			"-staging-dir", t.TempDir(),
			"-workers", "2",
			"-log-level", "error",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("run failed with exit code %d", exitCode)
		}

		got := minio.ReadObject(t, ctx, "ontrack-trusted", outputKey)
		if !bytes.HasPrefix(got, []byte(testutils.ShardHeader)) {
			t.Fatalf("output does not start with the header: %q", got[:min(len(got), 80)])
		}
		if rows := strings.Count(string(got), "\n") - 1; rows != 150 {
			t.Errorf("expected 150 distinct rows, got %d", rows)
		}
	})

	t.Run("validate", func(t *testing.T) {
		exitCode := runValidate([]string{
			"-bucket", trustedURL,
			"-source", "garagem-01",
			"-partition", readPath,
		})
		if exitCode != ExitSuccess {
			t.Fatalf("validate failed with exit code %d", exitCode)
		}
	})

	t.Run("rerun_is_idempotent", func(t *testing.T) {
		before := minio.ReadObject(t, ctx, "ontrack-trusted", outputKey)

		exitCode := runRun([]string{
			"-raw-bucket", rawURL,
			"-trusted-bucket", trustedURL,
			"-partition", readPath,
			"-staging-dir", t.TempDir(),
			"-log-level", "error",
		})
		if exitCode != ExitSuccess {
			t.Fatalf("rerun failed with exit code %d", exitCode)
		}

		after := minio.ReadObject(t, ctx, "ontrack-trusted", outputKey)
		if !bytes.Equal(before, after) {
			t.Fatal("rerun changed the published output")
		}
	})
}
