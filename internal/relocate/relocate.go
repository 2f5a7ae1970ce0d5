// Package relocate moves staged XSAMS payloads into their permanent directory
// under names derived from the node short name and the request token.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Extension is appended to every relocated payload.
const Extension = ".xsams"

// ErrUnsupportedURI reports a payload reference that does not name a local file.
var ErrUnsupportedURI = errors.New("payload uri is not a local file")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds the permanent name for a payload. It is deterministic in its
// inputs and never contains a path separator.
func FileName(shortName, token string) string {
	short := sanitize(shortName)
	if short == "" {
		short = "node"
	}
	tok := sanitize(token)
	if tok == "" {
		tok = "untokened"
	}
	return short + "_" + tok + Extension
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, ".-")
}

// Relocator owns the permanent payload directory.
type Relocator struct {
	dir    string
	logger *zap.Logger
}

// New creates dir if needed and returns a Relocator writing into it.
func New(dir string, logger *zap.Logger) (*Relocator, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("relocation directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create relocation directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relocator{dir: dir, logger: logger}, nil
}

// Dir returns the permanent directory.
func (r *Relocator) Dir() string {
	return r.dir
}

// Relocate moves every staged payload in results into the permanent directory
// and returns the destination paths in submission order. Existing files are
// overwritten. A payload that cannot be moved is reported in the joined error
// without stopping the others.
func (r *Relocator) Relocate(ctx context.Context, results []vamdc.SubQueryResult) ([]string, error) {
	var (
		paths []string
		errs  []error
	)
	for _, res := range results {
		if res.Payload == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return paths, fmt.Errorf("relocate: %w", err)
		}
		src, err := LocalPath(res.Payload.URI)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Descriptor, err))
			continue
		}
		dst := filepath.Join(r.dir, FileName(res.Descriptor.NodeShortName, res.Token))
		if err := move(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Descriptor, err))
			continue
		}
		r.logger.Debug("payload relocated", zap.String("from", src), zap.String("to", dst))
		paths = append(paths, dst)
	}
	return paths, errors.Join(errs...)
}

// LocalPath extracts the filesystem path from a file:// URI or a bare path.
func LocalPath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		if uri == "" {
			return "", ErrUnsupportedURI
		}
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse payload uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	return filepath.FromSlash(u.Path), nil
}

func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename payload: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove staged payload: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- src comes from our own staging store.
	if err != nil {
		return fmt.Errorf("open staged payload: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 -- dst is built by FileName.
	if err != nil {
		return fmt.Errorf("create payload: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy payload: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close payload: %w", err)
	}
	return nil
}
