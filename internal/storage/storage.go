// Package storage defines the object store that receives exported audit archive
// batches. Backends register themselves with the factory from their own package
// init(), so the server only needs a blank import per backend:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(&cfg.Archive.MyBackend)
//	    })
//	}
package storage

import (
	"context"
	"io"
)

// Storage is an object store addressed by slash-separated keys.
type Storage interface {
	// Upload stores the object and returns its key, size and SHA-256 checksum
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}
