package pipeline

import (
	"context"
	"fmt"

	"github.com/ontracksystems/ontrack-etl/internal/store"
)

// ListSources returns every top-level prefix of the raw bucket, such as
// "garagem-01/". Objects stored directly at the root are ignored.
func ListSources(ctx context.Context, raw *store.Bucket) ([]string, error) {
	sources, err := raw.ListPrefixes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("pipeline: list sources: %w", err)
	}
	return sources, nil
}

// ListShards returns the objects under source+readPath in listing order.
// An empty result means the source has no data for the partition.
func ListShards(ctx context.Context, raw *store.Bucket, source, readPath string) ([]store.Object, error) {
	shards, err := raw.List(ctx, source+readPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list shards of %s: %w", source, err)
	}
	return shards, nil
}
