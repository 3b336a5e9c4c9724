package workspace

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// bucketAndKey splits an object URL into the bucket URL gocloud opens and the
// object key. Query parameters (region, endpoint, ...) stay on the bucket.
func bucketAndKey(u *url.URL) (bucketURL, key string, err error) {
	switch u.Scheme {
	case "file":
		dir, name := path.Split(u.Path)
		if name == "" {
			return "", "", fmt.Errorf("missing object name in %s", u.Redacted())
		}
		b := url.URL{Scheme: "file", Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if b.Path == "" {
			b.Path = "/"
		}
		return b.String(), name, nil
	default:
		key = strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("object url must name a bucket and key: %s", u.Redacted())
		}
		b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
		return b.String(), key, nil
	}
}

func (s *Stager) fetchBlob(ctx context.Context, jobDir string, u *url.URL) (string, int64, error) {
	bucketURL, key, err := bucketAndKey(u)
	if err != nil {
		return "", 0, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", 0, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return "", 0, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	return writeAtomic(filepath.Join(jobDir, path.Base(key)), r)
}
