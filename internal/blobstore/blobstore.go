// Package blobstore defines the narrow blob-store capability interface
// (spec.md §6) and a local-filesystem implementation, grounded in the
// original implementation's s3_client.py layout
// (silver/chunks/{id}.json, gold/reports/{task_id}.json) but serving it
// off local disk so tests and local runs need no AWS credentials.
package blobstore

import "context"

// Store is the capability interface the retrieval library and result
// mirroring depend on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "blobstore: key not found" }
