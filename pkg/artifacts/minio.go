package artifacts

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{useSSL: true}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

type minioSource struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioSource(opts ...MinioOpts) (Source, error) {
	cfg := newConfig(opts...)

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &minioSource{cfg: cfg, client: client}, nil
}

func (s *minioSource) Type() string {
	return "minio"
}

// List returns the objects below the configured prefix with keys relative to
// that prefix.
func (s *minioSource) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.cfg.bucket, minio.ListObjectsOptions{
		Prefix:    s.cfg.prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		objects = append(objects, Object{
			Key:  strings.TrimPrefix(strings.TrimPrefix(info.Key, s.cfg.prefix), "/"),
			Size: info.Size,
		})
	}
	return objects, nil
}

func (s *minioSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name := key
	if s.cfg.prefix != "" {
		name = strings.TrimSuffix(s.cfg.prefix, "/") + "/" + key
	}
	return s.client.GetObject(ctx, s.cfg.bucket, name, minio.GetObjectOptions{})
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithPrefix(prefix string) MinioOpts {
	return func(c *minioConfig) {
		c.prefix = prefix
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
