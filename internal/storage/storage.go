package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
)

// MaxDocumentSize bounds what a DocumentStore reads back.
const MaxDocumentSize = 1 << 20

// Document is a small JSON document kept in a bucket.
type Document struct {
	Key          string
	Body         []byte
	ETag         string
	LastModified time.Time
}

// DocumentStore reads and replaces whole documents by key. Writes are
// last-writer-wins.
type DocumentStore interface {
	Read(ctx context.Context, key string) (Document, error)
	Write(ctx context.Context, key string, body []byte, contentType string) (Document, error)
}
