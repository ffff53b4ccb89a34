package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// Bucket adapts a gocloud.dev blob bucket to the Store interface. The same
// code path serves AWS S3, Backblaze B2, Cloudflare R2, MinIO, GCS, and the
// local filesystem; only the bucket URL differs.
type Bucket struct {
	bucket *blob.Bucket
}

// NewBucketS3 opens an S3-compatible bucket.
func NewBucketS3(bucketName, prefix, endpoint, region string) (*Bucket, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	return openBucket(bucketURL, prefix)
}

// NewBucketGCS opens a Google Cloud Storage bucket.
func NewBucketGCS(bucketName, prefix string) (*Bucket, error) {
	return openBucket(fmt.Sprintf("gs://%s", bucketName), prefix)
}

// NewBucketLocal opens a directory on the local filesystem as a bucket.
func NewBucketLocal(dir, prefix string) (*Bucket, error) {
	return openBucket(fmt.Sprintf("file://%s?create_dir=true", dir), prefix)
}

func openBucket(bucketURL, prefix string) (*Bucket, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix)
	}
	return &Bucket{bucket: bucket}, nil
}

// Get returns the content stored at key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put writes data to key. IfNotExist maps onto the driver's conditional
// write, which surfaces as a failed precondition on Close.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, opts *PutOptions) error {
	var wopts *blob.WriterOptions
	if opts != nil && opts.IfNotExist {
		wopts = &blob.WriterOptions{IfNotExist: true}
	}

	w, err := b.bucket.NewWriter(ctx, key, wopts)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		if gcerrors.Code(err) == gcerrors.FailedPrecondition {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Delete removes the object at key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrNotExist
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Head returns metadata for the object at key.
func (b *Bucket) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("attributes %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// Close releases the bucket connection.
func (b *Bucket) Close() error {
	if b.bucket != nil {
		return b.bucket.Close()
	}
	return nil
}
