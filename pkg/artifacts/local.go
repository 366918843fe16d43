package artifacts

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type localSource struct {
	dir string
}

func NewLocalSource(dir string) Source {
	return &localSource{dir: dir}
}

func (s *localSource) Type() string {
	return "local"
}

func (s *localSource) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
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
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	return objects, err
}

func (s *localSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, filepath.FromSlash(key)))
}
