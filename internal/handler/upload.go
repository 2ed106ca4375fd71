package handler

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
)

// sniffLen is how much of an upload is inspected to detect its type.
const sniffLen = 3072

// Uploader stores media files and describes where they are served from.
type Uploader interface {
	Save(ctx context.Context, filename string, r io.Reader) (*model.Media, error)
	Remove(ctx context.Context, m *model.Media) error
}

// LocalUploader keeps uploads on local disk under a directory served at baseURL.
type LocalUploader struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalUploader creates dir if needed.
func NewLocalUploader(dir, baseURL string, maxBytes int64) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload directory")
	}
	return &LocalUploader{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Save writes r to a fresh file. The MIME type is sniffed from the content,
// not taken from the client.
func (u *LocalUploader) Save(ctx context.Context, filename string, r io.Reader) (*model.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	mt := mimetype.Detect(head)
	ext := mt.Extension()
	if ext == "" {
		ext = filepath.Ext(filename)
	}

	name := uuid.Must(uuid.NewV7()).String() + ext
	target := filepath.Join(u.dir, name)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperr.Unavailable(errors.Wrap(err, "create upload"), "upload failed")
	}

	n, err := io.Copy(f, io.LimitReader(br, u.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return nil, apperr.Unavailable(errors.Wrap(err, "write upload"), "upload failed")
	}
	if n > u.maxBytes {
		os.Remove(target)
		return nil, apperr.Validation("file is too large")
	}

	mimeType, _, _ := strings.Cut(mt.String(), ";")
	return &model.Media{
		URL:      u.baseURL + "/" + name,
		Filename: filepath.Base(filename),
		MimeType: mimeType,
		Size:     n,
	}, nil
}

// Remove deletes a file previously returned by Save.
func (u *LocalUploader) Remove(_ context.Context, m *model.Media) error {
	if m == nil || !strings.HasPrefix(m.URL, u.baseURL+"/") {
		return nil
	}
	name := path.Base(m.URL)
	err := os.Remove(filepath.Join(u.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove upload")
	}
	return nil
}

// Handler serves stored files. Directory listings are refused.
func (u *LocalUploader) Handler() http.Handler {
	files := http.FileServer(http.Dir(u.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
