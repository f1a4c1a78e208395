package remote

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// LocalStore implements Store against a directory tree. It backs test runs
// and jobs executed without cloud credentials; "keys" are slash-separated
// paths under root.
type LocalStore struct {
	root string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore returns a store rooted at root, creating it if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, wrapOp("create local store root", root, err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the backing directory.
func (l *LocalStore) Root() string {
	return l.root
}

func (l *LocalStore) keyPath(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// PrefixSize sums file sizes under prefix. A missing prefix is size zero.
func (l *LocalStore) PrefixSize(ctx context.Context, prefix string) (int64, error) {
	var total int64
	base := l.keyPath(prefix)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// DownloadPrefix copies everything under prefix into destDir.
func (l *LocalStore) DownloadPrefix(ctx context.Context, prefix, destDir string) error {
	base := l.keyPath(prefix)
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // empty prefix downloads nothing
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		return copyFile(p, filepath.Join(destDir, rel))
	})
}

// UploadDir copies every regular file under dir to prefix.
func (l *LocalStore) UploadDir(ctx context.Context, dir, prefix string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return l.UploadFile(ctx, p, path.Join(prefix, filepath.ToSlash(rel)))
	})
}

// UploadFile copies one file to key.
func (l *LocalStore) UploadFile(ctx context.Context, p, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return copyFile(p, l.keyPath(key))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return wrapOp("open", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return wrapOp("create dir", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return wrapOp("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return wrapOp("copy", dst, err)
	}
	return out.Close()
}
