// Package gcs reads raw snapshot tables from and writes exports to Google
// Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned by Open when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the subset of storage operations the rest of the module
// needs. It enables mocking in tests.
type ObjectStore interface {
	// Open returns a reader for the object at uri.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	// Create returns a writer for the object at uri. The object is committed
	// on Close; cancelling ctx before Close discards it.
	Create(ctx context.Context, uri, contentType string) (io.WriteCloser, error)
	// Copy copies the object at src to dst, overwriting dst.
	Copy(ctx context.Context, src, dst string) error
	// Delete removes the object at uri. A missing object is not an error.
	Delete(ctx context.Context, uri string) error
}

// Client is the Cloud Storage implementation of ObjectStore. It assumes
// Application Default Credentials are configured.
type Client struct {
	sc *storage.Client
}

// NewClient creates a storage client.
func NewClient(ctx context.Context) (*Client, error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{sc: sc}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.sc.Close()
}

func (c *Client) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	rc, err := c.sc.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%s: %w", uri, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %s: %w", uri, err)
	}
	return rc, nil
}

func (c *Client) Create(ctx context.Context, uri, contentType string) (io.WriteCloser, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if object == "" {
		return nil, fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	w := c.sc.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w, nil
}

func (c *Client) Copy(ctx context.Context, src, dst string) error {
	srcBucket, srcObject, err := ParseURI(src)
	if err != nil {
		return err
	}
	dstBucket, dstObject, err := ParseURI(dst)
	if err != nil {
		return err
	}
	from := c.sc.Bucket(srcBucket).Object(srcObject)
	if _, err := c.sc.Bucket(dstBucket).Object(dstObject).CopierFrom(from).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", src, ErrObjectNotFound)
		}
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, uri string) error {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return err
	}
	err = c.sc.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", uri, err)
	}
	return nil
}

// UploadFile copies a local file to uri.
func UploadFile(ctx context.Context, store ObjectStore, uri, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w, err := store.Create(ctx, uri, "text/csv")
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}
