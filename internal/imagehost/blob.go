package imagehost

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ObjectStore is the subset of a blob store needed to host images.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobHost writes images into an object store under folder/<id><ext> and
// returns the URL reported by the store.
type BlobHost struct {
	store  ObjectStore
	folder string
	ids    catalog.IDGenerator
}

// NewBlobHost builds a BlobHost.
func NewBlobHost(store ObjectStore, folder string, ids catalog.IDGenerator) (*BlobHost, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &BlobHost{store: store, folder: strings.Trim(folder, "/"), ids: ids}, nil
}

// Upload copies the file at localPath into the store.
func (h *BlobHost) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("open staged image: %w", err)
	}
	defer func() { _ = f.Close() }()

	id, err := h.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate object name: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(localPath))
	name := id + ext
	if h.folder != "" {
		name = path.Join(h.folder, name)
	}
	url, err := h.store.PutObject(ctx, name, mime.TypeByExtension(ext), f)
	if err != nil {
		return "", catalog.NewError(catalog.KindDownstream, "store image", localPath, err)
	}
	return url, nil
}
