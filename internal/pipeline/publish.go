package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/store"
)

// ContentType is the content type of published files.
const ContentType = "text/csv"

// ErrCleanup wraps a failure to remove staging after a successful upload.
// The output is published when Publish returns an error matching ErrCleanup.
var ErrCleanup = errors.New("pipeline: staging cleanup failed")

// OutputKey returns the trusted-bucket key of source's output for p, such
// as "garagem-01/ano=2025/mes=03/dia=07/consolidado_09.csv".
func OutputKey(source string, p partition.Partition) string {
	if source != "" && !strings.HasSuffix(source, "/") {
		source += "/"
	}
	return source + p.WritePath() + p.OutputName()
}

// Publish uploads localPath to key in the trusted bucket. Once the upload is
// confirmed, stagingDir is removed. On upload failure stagingDir is left in
// place.
func Publish(ctx context.Context, trusted *store.Bucket, localPath, key, stagingDir string) error {
	if err := trusted.UploadFile(ctx, localPath, key, ContentType); err != nil {
		return fmt.Errorf("pipeline: publish %s: %w", key, err)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("%w: %w", ErrCleanup, err)
	}
	return nil
}
