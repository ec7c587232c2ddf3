package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the configured size.
var ErrTooLarge = errors.New("attachment too large")

// ErrUnknownObject is returned when a URL does not name a stored attachment.
var ErrUnknownObject = errors.New("unknown attachment")

// Storage persists message attachments and returns their public URL.
type Storage interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error)
	// Remove deletes the attachment behind a URL returned by Save.
	Remove(ctx context.Context, url string) error
}

// LocalStorage writes attachments to a directory served under a URL prefix.
type LocalStorage struct {
	dir       string
	urlPrefix string
	maxBytes  int64
}

// NewLocalStorage creates the upload directory if needed.
func NewLocalStorage(dir, urlPrefix string, maxBytes int64) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads"
	}
	return &LocalStorage{
		dir:       dir,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		maxBytes:  maxBytes,
	}, nil
}

// Dir returns the directory attachments are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

var extRegex = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// objectName builds a collision-free file name, keeping a sane extension.
func objectName(originalName string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !extRegex.MatchString(ext) {
		ext = ""
	}
	return id.String() + ext
}

// Save streams r to disk. The file is removed if the copy fails or exceeds maxBytes.
func (s *LocalStorage) Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := objectName(originalName)
	full := filepath.Join(s.dir, name)

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		os.Remove(full)
		return "", err
	}

	return path.Join(s.urlPrefix, name), nil
}

// Remove deletes the file a Save URL points at. Removing a missing file is not an error.
func (s *LocalStorage) Remove(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok || name == "" || name != path.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %s", ErrUnknownObject, url)
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
