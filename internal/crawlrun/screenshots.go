package crawlrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ScreenshotStore persists rendered page screenshots and returns a
// reference for the page record.
type ScreenshotStore interface {
	Save(ctx context.Context, siteID, pageID string, png []byte) (ref string, err error)
}

// DirScreenshotStore writes screenshots under a local directory, one
// subdirectory per site.
type DirScreenshotStore struct {
	root string
}

func NewDirScreenshotStore(root string) (*DirScreenshotStore, error) {
	if root == "" {
		return nil, fmt.Errorf("screenshot root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot root: %w", err)
	}
	return &DirScreenshotStore{root: root}, nil
}

func (s *DirScreenshotStore) Save(_ context.Context, siteID, pageID string, png []byte) (string, error) {
	dir := filepath.Join(s.root, siteID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create site screenshot dir: %w", err)
	}
	path := filepath.Join(dir, pageID+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
