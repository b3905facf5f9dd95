package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/kbukum/batchpredict/errors"
)

// SplitURI splits scheme://bucket/key into its parts. The key may be empty.
func SplitURI(uri string) (scheme, bucket, key string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", "", errors.InvalidFormat("uri", "scheme://bucket/path").WithDetail("uri", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", "", errors.InvalidFormat("uri", "scheme://bucket/path").WithDetail("uri", uri)
	}
	return scheme, bucket, key, nil
}

// JoinURI builds scheme://bucket/key.
func JoinURI(scheme, bucket, key string) string {
	if key == "" {
		return fmt.Sprintf("%s://%s", scheme, bucket)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, strings.TrimPrefix(key, "/"))
}

// Join appends path elements to a URI, cleaning duplicate slashes.
func Join(uri string, elem ...string) string {
	scheme, bucket, key, err := SplitURI(uri)
	if err != nil {
		return strings.TrimRight(uri, "/") + "/" + path.Join(elem...)
	}
	return JoinURI(scheme, bucket, strings.TrimPrefix(path.Join(append([]string{"/", key}, elem...)...), "/"))
}

// GlobPrefix returns the literal key prefix before the first wildcard in pattern.
func GlobPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// MatchGlob filters files whose path matches pattern (path.Match syntax).
// A pattern without wildcards matches itself and everything below it.
func MatchGlob(files []Object, pattern string) ([]Object, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errors.InvalidFormat("pattern", "glob").WithCause(err)
	}
	literal := GlobPrefix(pattern) == pattern
	var out []Object
	for _, f := range files {
		if literal {
			if f.Key == pattern || strings.HasPrefix(f.Key, strings.TrimSuffix(pattern, "/")+"/") {
				out = append(out, f)
			}
			continue
		}
		if ok, _ := path.Match(pattern, f.Key); ok {
			out = append(out, f)
		}
	}
	return out, nil
}
