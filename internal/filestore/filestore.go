package filestore

import (
	"io"
	"mime"
	"path/filepath"

	"gutorka/internal/models"

	"github.com/h2non/filetype"
)

// FileStore binds uploaded byte streams to stored files addressed by an
// opaque handle.
type FileStore interface {
	// Save stores the stream and returns the handle and the number of
	// bytes written.
	Save(r io.Reader, fileName string) (handle string, size int64, err error)

	// Open returns the stored content for the given handle.
	Open(handle string) (io.ReadCloser, error)

	// Delete removes the stored content for the given handle.
	Delete(handle string) error
}

// SniffLen is how many leading bytes DetectContentType needs to match
// magic numbers.
const SniffLen = 262

// DetectContentType resolves a MIME type from the file's leading bytes,
// falling back to the file name extension. Returns
// models.ErrContentTypeUnresolved when neither works.
func DetectContentType(header []byte, fileName string) (string, error) {
	if t, err := filetype.Match(header); err == nil && t != filetype.Unknown {
		return t.MIME.Value, nil
	}

	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct, nil
	}

	return "", models.ErrContentTypeUnresolved
}
