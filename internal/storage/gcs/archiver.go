package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Putter is the write half of a blob store.
type Putter interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver copies relocated payload files into a bucket under a prefix. The
// local files are left in place.
type Archiver struct {
	store       Putter
	prefix      string
	contentType string
	logger      *zap.Logger
}

// NewArchiver wraps store. Objects are named prefix/<file name>.
func NewArchiver(store Putter, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		contentType: "application/x-xsams+xml",
		logger:      logger,
	}
}

// Archive uploads each file and returns the object URIs in input order. A file
// that fails is reported in the joined error; the rest are still uploaded.
func (a *Archiver) Archive(ctx context.Context, files []string) ([]string, error) {
	var (
		uris []string
		errs []error
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return uris, fmt.Errorf("archive: %w", err)
		}
		uri, err := a.archiveOne(ctx, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.logger.Debug("payload archived", zap.String("file", file), zap.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, errors.Join(errs...)
}

func (a *Archiver) archiveOne(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file) // #nosec G304 -- files come from the relocation directory.
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(file)
	if a.prefix != "" {
		name = path.Join(a.prefix, name)
	}
	uri, err := a.store.PutObject(ctx, name, a.contentType, f)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", file, err)
	}
	return uri, nil
}
