package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiscoverFiles lists the files directly inside dir whose extension
// matches ext, case-insensitively, sorted by name. Subdirectories and
// other files are skipped without being reported. A missing dir is
// ErrSourceDirMissing.
func DiscoverFiles(dir, ext string) ([]DiscoveredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceDirMissing, dir)
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []DiscoveredFile
	for _, e := range entries {
		if e.IsDir() || (!e.Type().IsRegular() && e.Type()&fs.ModeSymlink == 0) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, DiscoveredFile{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// IncomingDir returns the incoming location of a source under root.
func IncomingDir(root, sourceID, incoming string) string {
	return filepath.Join(root, sourceID, incoming)
}
