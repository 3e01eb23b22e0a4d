package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// PublicPrefix is the URL path disk avatars are served under.
const PublicPrefix = "/uploads/"

// DiskStore writes avatars into a local directory served at PublicPrefix.
type DiskStore struct {
	dir string
	now func() time.Time
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("avatar dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar dir: %w", err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

// Save copies at most MaxSize bytes and returns /uploads/<name>.
func (d *DiskStore) Save(ctx context.Context, originalName, _ string, r io.Reader, _ int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := objectName(d.now(), originalName)
	full := filepath.Join(d.dir, name)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create avatar: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, MaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		return "", err
	}
	return path.Join(PublicPrefix, name), nil
}

// Delete removes the file behind a /uploads/<name> reference.
func (d *DiskStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := path.Base(strings.TrimPrefix(ref, PublicPrefix))
	if name == "." || name == "/" || !strings.HasPrefix(ref, PublicPrefix) {
		return nil
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}

// Handler serves stored avatars. Mount it at PublicPrefix. Directories are
// not listed.
func (d *DiskStore) Handler() http.Handler {
	return http.StripPrefix(PublicPrefix, http.FileServer(filesOnly{http.Dir(d.dir)}))
}

type filesOnly struct {
	http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
