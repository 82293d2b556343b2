package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ontracksystems/ontrack-etl/internal/store"
)

// ErrUnsafePath is returned when a key or source would place a file outside
// the staging directory.
var ErrUnsafePath = errors.New("pipeline: path escapes staging directory")

// LocalName maps a shard key to a flat file name. The listing prefix is
// removed and the remaining separators become underscores, so nested keys
// under one prefix never collide.
func LocalName(key, prefix string) (string, error) {
	rel := strings.TrimPrefix(key, prefix)
	name := strings.ReplaceAll(rel, "/", "_")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, key)
	}
	return name, nil
}

// Fetch downloads key into dir under its LocalName and returns the local
// path. dir is created if needed and an existing file at the destination is
// replaced. On failure no partial file is left behind.
func Fetch(ctx context.Context, raw *store.Bucket, key, prefix, dir string) (string, error) {
	name, err := LocalName(key, prefix)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("pipeline: create staging dir: %w", err)
	}

	local := filepath.Join(dir, name)
	if err := os.Remove(local); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("pipeline: remove stale shard: %w", err)
	}
	if err := raw.DownloadFile(ctx, key, local); err != nil {
		os.Remove(local)
		return "", fmt.Errorf("pipeline: fetch %s: %w", key, err)
	}
	return local, nil
}

// FetchResult is the outcome of FetchAll.
type FetchResult struct {
	Paths  []string // local paths of fetched shards, in listing order
	Failed int      // shards that could not be fetched
}

// FetchAll downloads shards in order into dir. A shard that fails is logged,
// counted and left out; the remaining shards are still fetched. Only
// cancellation of ctx stops the loop early and is returned.
func (r *Runner) FetchAll(ctx context.Context, shards []store.Object, prefix, dir string, log *zap.Logger) (FetchResult, error) {
	res := FetchResult{Paths: make([]string, 0, len(shards))}
	for _, obj := range shards {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		local, err := Fetch(ctx, r.raw, obj.Key, prefix, dir)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			r.metrics.shardFailed()
			log.Warn("skipping shard", zap.String("key", obj.Key), zap.Error(err))
			continue
		}

		res.Paths = append(res.Paths, local)
		r.metrics.shardFetched(obj.Size)
		if r.opts.Progress != nil {
			r.opts.Progress.ShardFetched(obj.Size)
		}
	}
	return res, nil
}
