// Package inbox ingests documents dropped into a folder.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docqa-ai/internal/extract"
)

// ScannedFile is a document file found under the inbox root.
type ScannedFile struct {
	RelPath string // Relative path from the inbox root, slash separated
	AbsPath string
	Size    int64
}

// Scan walks root and returns every file the page extractors can read.
// Hidden files and directories are skipped.
func Scan(ctx context.Context, root string) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !accepts(path) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		files = append(files, ScannedFile{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("failed to scan inbox %s: %w", root, err)
	}
	return files, nil
}

// accepts reports whether path names a visible document file with a
// supported extension.
func accepts(path string) bool {
	name := filepath.Base(path)
	if hidden(name) || filepath.Ext(name) == "" {
		return false
	}
	return extract.Supported(name)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}
