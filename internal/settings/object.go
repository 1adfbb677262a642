package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/querychat/querychat/internal/storage"
)

// ObjectStore keeps the configuration document under a single key in an
// S3-compatible bucket.
type ObjectStore struct {
	documents storage.DocumentStore
	key       string
}

func NewObjectStore(documents storage.DocumentStore, key string) (*ObjectStore, error) {
	if documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if key == "" {
		return nil, fmt.Errorf("settings object key is required")
	}
	return &ObjectStore{documents: documents, key: key}, nil
}

func (s *ObjectStore) Load(ctx context.Context) (Configuration, bool, error) {
	doc, err := s.documents.Read(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return Configuration{}, false, nil
		}
		return Configuration{}, false, fmt.Errorf("load settings object %q: %w", s.key, err)
	}
	if len(bytes.TrimSpace(doc.Body)) == 0 {
		return Configuration{}, false, nil
	}
	cfg, err := Decode(doc.Body)
	if err != nil {
		return Configuration{}, false, fmt.Errorf("settings object %q: %w", s.key, err)
	}
	return cfg, true, nil
}

func (s *ObjectStore) Save(ctx context.Context, cfg Configuration) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if _, err := s.documents.Write(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("save settings object %q: %w", s.key, err)
	}
	return nil
}
