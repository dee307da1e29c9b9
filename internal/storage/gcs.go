package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket, so the
// packaged output can be published straight to an HTTP-reachable origin.
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	prefix     string
	ctx        context.Context
}

// NewGCSStorage connects to the given bucket and verifies it is reachable.
// prefix is an optional object-name prefix within the bucket.
func NewGCSStorage(ctx context.Context, bucketName, prefix string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		return nil, fmt.Errorf("access bucket %s: %w", bucketName, err)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		ctx:        ctx,
	}, nil
}

// Write stores data in the bucket. GCS object writes are atomic: the object
// becomes visible only once the writer is closed successfully.
func (s *GCSStorage) Write(name string, data []byte) error {
	obj := s.client.Bucket(s.bucketName).Object(s.objectName(name))
	w := obj.NewWriter(s.ctx)
	w.ContentType = ContentType(name)
	w.CacheControl = CacheControl(name)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s to GCS: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Read implements Storage.Read.
func (s *GCSStorage) Read(name string) ([]byte, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.objectName(name))
	r, err := obj.NewReader(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s from GCS: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s from GCS: %w", name, err)
	}
	return data, nil
}

// Exists implements Storage.Exists.
func (s *GCSStorage) Exists(name string) (bool, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.objectName(name))
	_, err := obj.Attrs(s.ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s on GCS: %w", name, err)
	}
	return true, nil
}

// List implements Storage.List.
func (s *GCSStorage) List(prefix string) ([]string, error) {
	full := s.objectName(prefix)
	it := s.client.Bucket(s.bucketName).Objects(s.ctx, &storage.Query{Prefix: full})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, s.prefixWithSlash())
		if name != "" && !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	return names, nil
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) objectName(name string) string {
	return s.prefixWithSlash() + name
}

func (s *GCSStorage) prefixWithSlash() string {
	if s.prefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.prefix, "/") + "/"
}
