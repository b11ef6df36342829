// Package samples lists and resolves the pre-seeded media a user can pick
// instead of uploading. Images live in <root>/images, videos in <root>/videos.
package samples

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mhdmirzan/pose-estimation/internal/media"
)

var ErrSampleNotFound = errors.New("sample not found")

type Catalog struct {
	root string
}

func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Dir is the directory holding samples of kind.
func (c *Catalog) Dir(kind media.Kind) string {
	return filepath.Join(c.root, kind.Plural())
}

// List returns sample filenames of kind in lexical order. A missing directory
// yields an empty list.
func (c *Catalog) List(kind media.Kind) ([]string, error) {
	entries, err := os.ReadDir(c.Dir(kind))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s samples: %w", kind, err)
	}

	p := media.Classify(kind)
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !p.Accepts(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Path resolves a sample name to a file on disk.
func (c *Catalog) Path(kind media.Kind, name string) (string, error) {
	if err := media.ValidateSampleName(name); err != nil {
		return "", err
	}
	if !media.Classify(kind).Accepts(name) {
		return "", fmt.Errorf("%w: %s", media.ErrUnsupportedExtension, name)
	}

	path := filepath.Join(c.Dir(kind), name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrSampleNotFound, name)
	}
	return path, nil
}

// Read loads a sample into memory.
func (c *Catalog) Read(kind media.Kind, name string) ([]byte, error) {
	path, err := c.Path(kind, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
