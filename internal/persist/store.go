// Package persist writes merged tables to a destination directory or bucket.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob" // mem:// destinations

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/bar"
)

// Store writes one object per symbol into a bucket.
type Store struct {
	bucket *blob.Bucket
	owned  bool
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report written objects.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func newStore(b *blob.Bucket, owned bool, opts []Option) *Store {
	s := &Store{bucket: b, owned: owned, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens dest, which is either a local directory (created if missing) or
// a bucket URL such as file:///data, mem://, s3://bucket or gs://bucket.
func Open(ctx context.Context, dest string, opts ...Option) (*Store, error) {
	if dest == "" {
		return nil, apperror.New(apperror.ConfigError, "destination is required")
	}

	var (
		b   *blob.Bucket
		err error
	)
	if strings.Contains(dest, "://") {
		b, err = blob.OpenBucket(ctx, dest)
	} else {
		var abs string
		abs, err = filepath.Abs(dest)
		if err == nil {
			b, err = fileblob.OpenBucket(abs, &fileblob.Options{CreateDir: true, Metadata: fileblob.MetadataDontWrite})
		}
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.PersistenceError, fmt.Sprintf("open destination %s", dest), err)
	}
	return newStore(b, true, opts), nil
}

// NewStore wraps an already open bucket. Close leaves it open.
func NewStore(b *blob.Bucket, opts ...Option) *Store {
	return newStore(b, false, opts)
}

// ObjectKey is the name of the output object for symbol.
func ObjectKey(symbol string, f Format) string {
	return symbol + "." + f.Ext()
}

// Save serializes rows and writes them as <symbol>.<ext>, replacing any
// existing object. A failed write leaves no partial object behind.
func (s *Store) Save(ctx context.Context, symbol string, f Format, rows []bar.Bar) (string, error) {
	enc, err := EncoderFor(f)
	if err != nil {
		return "", err
	}
	key := ObjectKey(symbol, f)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: f.ContentType()})
	if err != nil {
		return "", apperror.Wrap(apperror.PersistenceError, fmt.Sprintf("create %s", key), err)
	}

	if err := enc.Encode(w, rows); err != nil {
		cancel() // abort the upload
		_ = w.Close()
		return "", apperror.Wrap(apperror.PersistenceError, fmt.Sprintf("encode %s", key), err)
	}
	if err := w.Close(); err != nil {
		return "", apperror.Wrap(apperror.PersistenceError, fmt.Sprintf("write %s", key), err)
	}

	if attrs, err := s.bucket.Attributes(ctx, key); err == nil {
		s.logger.Info("persisted table", "key", key, "rows", humanize.Comma(int64(len(rows))), "size", humanize.Bytes(uint64(attrs.Size)))
	}
	return key, nil
}

// Close releases the bucket if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}
