/*
Package proof stores proof-of-payment files and hands back opaque references.

PURPOSE:
  A donation only records ProofRef, a string. This package is the one place
  that knows what the string means: a relative path under a local directory,
  or an object key in an S3 bucket.

KEY NAMING:
  <prefix>YYYY/MM/<uuid><ext>, where ext comes from the uploaded filename
  and must be one of AllowedExtensions.

SEE ALSO:
  - api/handlers.go: multipart upload on POST /api/donations
*/
package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("proof not found")
	ErrInvalidRef      = errors.New("invalid proof reference")
	ErrUnsupportedType = errors.New("unsupported proof file type")
)

// AllowedExtensions are the accepted proof file types.
var AllowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// Store persists proof files.
type Store interface {
	// Put saves r under a fresh reference derived from filename's extension.
	Put(ctx context.Context, filename string, r io.Reader) (string, error)

	// Open returns the file content and its content type.
	// Unknown references return ErrNotFound.
	Open(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// newKey builds "YYYY/MM/<uuid><ext>" for filename.
func newKey(filename string, now time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := AllowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.New().String(), ext), nil
}

// cleanRef rejects references that could escape the storage root.
func cleanRef(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "\\") || strings.HasPrefix(ref, "/") {
		return "", ErrInvalidRef
	}
	cleaned := path.Clean(ref)
	if cleaned != ref || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidRef
	}
	return cleaned, nil
}

// ContentType guesses the MIME type of a stored reference.
func ContentType(ref string) string {
	ext := strings.ToLower(path.Ext(ref))
	if ct, ok := AllowedExtensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
