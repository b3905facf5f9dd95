// Package storage provides object storage abstractions with pluggable backends.
//
// Pipeline artifacts are addressed by URI (gs://bucket/path, s3://bucket/path).
// A Resolver maps the scheme and bucket of a URI onto a Storage backend and
// the remaining path onto a key inside it.
//
// # Backends
//
//   - storage/s3: Amazon S3 and S3-compatible storage
//   - storage/local: Local filesystem storage, one directory per bucket
//
// # Configuration
//
//	storage:
//	  enabled: true
//	  provider: "local"
//	  base_path: "./data/objects"
//
// With the local provider gs://bucket/a/b is stored at ./data/objects/gs/bucket/a/b.
// With the s3 provider every bucket of every scheme is served by S3 under the same name.
package storage
