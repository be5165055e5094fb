// Package storage implements backend.Storage on a local directory tree and
// on S3-compatible object storage.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/sakif/flipbook/internal/apperror"
)

// cleanKey validates an object path. Keys are slash separated, relative and
// may not climb out of their bucket.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", apperror.ValidationFailed("path", fmt.Sprintf("invalid object path %q", key))
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", apperror.ValidationFailed("path", fmt.Sprintf("invalid object path %q", key))
	}
	return cleaned, nil
}

func cleanBucket(bucket string) error {
	if bucket == "" || strings.ContainsAny(bucket, "/\\.") {
		return apperror.ValidationFailed("bucket", fmt.Sprintf("invalid bucket %q", bucket))
	}
	return nil
}

// trimURL strips base from url and returns the remaining key.
func trimURL(base, url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, base)
	if !ok || rest == "" {
		return "", false
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := cleanKey(rest)
	if err != nil {
		return "", false
	}
	return key, true
}
