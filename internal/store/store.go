package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/time/rate"
)

// Options configures a Bucket.
type Options struct {
	// RateLimit caps remote calls per second. Zero or negative disables limiting.
	// Default: 50
	RateLimit float64

	// Burst is the limiter bucket size.
	// Default: 10
	Burst int

	// RetryAttempts is the maximum number of retries after the first attempt.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		RateLimit:       50,
		Burst:           10,
		RetryAttempts:   3,
		RetryBackoff:    500 * time.Millisecond,
		RetryMaxBackoff: 10 * time.Second,
	}
}

// Object describes one object returned by a flat listing.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Bucket is a rate-limited, retrying view over a gocloud bucket.
// It is safe for concurrent use.
type Bucket struct {
	bucket  *blob.Bucket
	url     string
	limiter *rate.Limiter
	opts    Options
}

// Open opens the bucket at url (s3://, gs://, file://, mem://).
// The caller must call Close when done.
func Open(ctx context.Context, url string, opts Options) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: open bucket %s: %w", url, err)
	}
	bkt := New(b, opts)
	bkt.url = url
	return bkt, nil
}

// New wraps an already opened bucket. Close closes the underlying bucket.
func New(b *blob.Bucket, opts Options) *Bucket {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultOptions().RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = DefaultOptions().RetryMaxBackoff
	}
	return &Bucket{
		bucket:  b,
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
	}
}

// URL returns the URL the bucket was opened from, or "" for wrapped buckets.
func (b *Bucket) URL() string {
	return b.url
}

// Close releases the underlying bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

// ListPrefixes returns the keys of the groupings directly under prefix,
// using "/" as delimiter. Only one level is returned; plain objects at that
// level are skipped. Returned prefixes keep their trailing slash.
func (b *Bucket) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var prefixes []string
	err := b.do(ctx, func() error {
		prefixes = prefixes[:0]
		iter := b.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if obj.IsDir {
				prefixes = append(prefixes, obj.Key)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("store: list prefixes %q: %w", prefix, err)
	}
	return prefixes, nil
}

// List returns every object whose key starts with prefix, in the order the
// provider lists them (lexicographic for all gocloud drivers). Directory
// marker keys ending in "/" are skipped.
func (b *Bucket) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := b.do(ctx, func() error {
		objects = objects[:0]
		iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
				continue
			}
			objects = append(objects, Object{Key: obj.Key, Size: obj.Size, ModTime: obj.ModTime})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", prefix, err)
	}
	return objects, nil
}

// DownloadFile copies the object at key into localPath, truncating the file
// on every attempt. The file is left in place on error; callers own cleanup.
func (b *Bucket) DownloadFile(ctx context.Context, key, localPath string) error {
	err := b.do(ctx, func() error {
		f, err := os.Create(localPath)
		if err != nil {
			return permanent{err}
		}
		if err := b.bucket.Download(ctx, key, f, nil); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return permanent{err}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: download %s: %w", key, err)
	}
	return nil
}

// UploadFile writes the contents of localPath to key.
func (b *Bucket) UploadFile(ctx context.Context, localPath, key, contentType string) error {
	err := b.do(ctx, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return permanent{err}
		}
		defer f.Close()
		return b.bucket.Upload(ctx, key, f, &blob.WriterOptions{ContentType: contentType})
	})
	if err != nil {
		return fmt.Errorf("store: upload %s: %w", key, err)
	}
	return nil
}

// WriteAll writes data to key.
func (b *Bucket) WriteAll(ctx context.Context, key string, data []byte, contentType string) error {
	err := b.do(ctx, func() error {
		return b.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType})
	})
	if err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}

// ReadAll reads the whole object at key.
func (b *Bucket) ReadAll(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.do(ctx, func() error {
		var err error
		data, err = b.bucket.ReadAll(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return data, nil
}

// NewReader opens key for streaming. The caller must close the reader.
// Only opening the reader is retried.
func (b *Bucket) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	var r *blob.Reader
	err := b.do(ctx, func() error {
		var err error
		r, err = b.bucket.NewReader(ctx, key, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", key, err)
	}
	return r, nil
}

// Delete removes key. Deleting a missing key returns an error for which
// IsNotExist reports true.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	err := b.do(ctx, func() error {
		return b.bucket.Delete(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key exists.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := b.do(ctx, func() error {
		var err error
		ok, err = b.bucket.Exists(ctx, key)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return ok, nil
}

// do runs fn under the rate limiter, retrying transient failures with
// exponential backoff.
func (b *Bucket) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := b.backoff(ctx, attempt); err != nil {
				return err
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", b.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (b *Bucket) backoff(ctx context.Context, attempt int) error {
	backoff := b.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > b.opts.RetryMaxBackoff {
		backoff = b.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryable reports whether err is a transient provider failure.
func retryable(err error) bool {
	switch gcerrors.Code(err) {
	case gcerrors.Unknown, gcerrors.Internal, gcerrors.ResourceExhausted, gcerrors.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// IsNotExist reports whether err indicates a missing object.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// permanent marks local failures that must not be retried.
type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }
