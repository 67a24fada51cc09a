package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
)

const (
	CallbackMove = "move"
	CallbackGCS  = "gcs"
	CallbackNone = "none"
)

type NoopCallback struct{}

func (NoopCallback) Name() string { return CallbackNone }

func (NoopCallback) Rolled(context.Context, string) error { return nil }

// MoveCallback moves rolled files into a destination folder.
type MoveCallback struct {
	Destination string
}

func NewMoveCallback(destination string) (*MoveCallback, error) {
	if destination == "" {
		destination = "."
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("create destination folder: %w", err)
	}
	return &MoveCallback{Destination: destination}, nil
}

func (c *MoveCallback) Name() string { return CallbackMove }

func (c *MoveCallback) Rolled(_ context.Context, file string) error {
	return os.Rename(file, filepath.Join(c.Destination, filepath.Base(file)))
}

// ObjectWriterFactory opens a writer for an object in a bucket. It is the
// part of *storage.Client the GCS callback needs.
type ObjectWriterFactory interface {
	NewObjectWriter(ctx context.Context, bucket, object string) io.WriteCloser
}

type storageClientAdapter struct {
	client *storage.Client
}

func (a storageClientAdapter) NewObjectWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := a.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	return w
}

// GCSCallback uploads rolled files to a bucket and removes the local copy.
type GCSCallback struct {
	writers ObjectWriterFactory
	bucket  string
	prefix  string
	closer  func() error
}

func NewGCSCallback(writers ObjectWriterFactory, bucket, prefix string) *GCSCallback {
	return &GCSCallback{writers: writers, bucket: bucket, prefix: prefix}
}

// NewGCSCallbackFromConfig builds the callback on a real storage client.
func NewGCSCallbackFromConfig(ctx context.Context, cfg config.GCSConfig) (*GCSCallback, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	cb := NewGCSCallback(storageClientAdapter{client: client}, cfg.Bucket, cfg.ObjectPrefix)
	cb.closer = client.Close
	return cb, nil
}

func (c *GCSCallback) Name() string { return CallbackGCS }

func (c *GCSCallback) ObjectName(file string) string {
	return path.Join(c.prefix, filepath.Base(file))
}

func (c *GCSCallback) Rolled(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open rolled file: %w", err)
	}
	defer f.Close()

	w := c.writers.NewObjectWriter(ctx, c.bucket, c.ObjectName(file))
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", file, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", file, err)
	}
	return os.Remove(file)
}

func (c *GCSCallback) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// NewCallback builds the roll callback named by cfg.Callback.
func NewCallback(ctx context.Context, cfg config.ShoeboxConfig, log logger.Logger) (Callback, error) {
	switch cfg.Callback {
	case "", CallbackMove:
		return NewMoveCallback(cfg.DestinationFolder)
	case CallbackGCS:
		log.Infow("Archiving rolled files to GCS", "bucket", cfg.GCS.Bucket, "prefix", cfg.GCS.ObjectPrefix)
		return NewGCSCallbackFromConfig(ctx, cfg.GCS)
	case CallbackNone:
		return NoopCallback{}, nil
	default:
		return nil, fmt.Errorf("unknown archive callback %q", cfg.Callback)
	}
}
