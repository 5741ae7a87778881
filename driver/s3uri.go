package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidURI marks a malformed s3:// location.
var ErrInvalidURI = errors.New("invalid s3 uri")

// SplitURI splits "s3://bucket/path/to/fname" into ("bucket",
// "path/to/fname"). A URI with no key beyond the bucket is an error.
func SplitURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q must start with s3://", ErrInvalidURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q has no key after the bucket", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

func joinURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// stageScript uploads the local command script under a fresh random key
// below prefix and returns the staged URI. Keys are never reused across
// retries, so each staged object must be reclaimed individually.
func (d *Driver) stageScript(ctx context.Context, localPath, prefix, jobName string) (string, error) {
	if strings.HasSuffix(prefix, "/") {
		return "", fmt.Errorf("%w: script prefix %q must not have a trailing slash", ErrInvalidURI, prefix)
	}
	bucket, keyPrefix, err := SplitURI(prefix)
	if err != nil {
		return "", err
	}
	key := keyPrefix + "/" + scriptKey(jobName)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open command script: %w", err)
	}
	defer f.Close()

	if err := d.api.Storage.Upload(ctx, bucket, key, f); err != nil {
		return "", err
	}
	return joinURI(bucket, key), nil
}

// scriptKey salts a random identifier with the job name so staged objects
// are traceable to their job from the console.
func scriptKey(jobName string) string {
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")
	return salt + "." + jobName + ".script"
}
