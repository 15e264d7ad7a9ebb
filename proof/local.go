package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local keeps proofs on the filesystem under Dir.
type Local struct {
	Dir string
	Now func() time.Time
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create proof dir: %w", err)
	}
	return &Local{Dir: dir, Now: time.Now}, nil
}

func (l *Local) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Local) Put(_ context.Context, filename string, r io.Reader) (string, error) {
	key, err := newKey(filename, l.now())
	if err != nil {
		return "", err
	}
	full := filepath.Join(l.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create proof dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create proof file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("write proof file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("close proof file: %w", err)
	}
	return key, nil
}

func (l *Local) Open(_ context.Context, ref string) (io.ReadCloser, string, error) {
	key, err := cleanRef(ref)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(l.Dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open proof file: %w", err)
	}
	return f, ContentType(key), nil
}

var _ Store = (*Local)(nil)
