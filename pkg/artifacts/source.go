// Package artifacts reads the release files of the application being
// installed, either from a local directory or from an S3 compatible bucket.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Object struct {
	Key  string
	Size int64
}

type Source interface {
	Type() string
	List(ctx context.Context) ([]Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Fetch copies every object of src below dst and returns the number of files
// and bytes written. Keys that would escape dst are rejected.
func Fetch(ctx context.Context, src Source, dst string) (int, int64, error) {
	objects, err := src.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing %s artifacts: %w", src.Type(), err)
	}

	root, err := filepath.Abs(dst)
	if err != nil {
		return 0, 0, err
	}

	var (
		files int
		total int64
	)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return files, total, err
		}

		target, err := safeJoin(root, obj.Key)
		if err != nil {
			return files, total, err
		}
		n, err := fetchOne(ctx, src, obj, target)
		total += n
		if err != nil {
			return files, total, err
		}
		files++
	}
	return files, total, nil
}

func fetchOne(ctx context.Context, src Source, obj Object, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	r, err := src.Open(ctx, obj.Key)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", obj.Key, err)
	}
	defer r.Close()

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: f}
	_, copyErr := io.Copy(cw, r)
	closeErr := f.Close()
	if copyErr != nil {
		return cw.written, fmt.Errorf("copying %s: %w", obj.Key, copyErr)
	}
	if closeErr != nil {
		return cw.written, closeErr
	}
	if obj.Size > 0 && cw.written != obj.Size {
		return cw.written, fmt.Errorf("failed to fetch the entire artifact %s. expected bytes %d received %d", obj.Key, obj.Size, cw.written)
	}
	return cw.written, nil
}

func safeJoin(root, key string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(key))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes the target directory", key)
	}
	return target, nil
}

type countingWriter struct {
	w       io.Writer
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}
