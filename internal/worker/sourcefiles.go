package worker

import (
	"io/fs"
	"path/filepath"
)

// listSourceFiles returns the file names (not full paths) directly under
// dir, for Planner.Classify, plus the total size in bytes of every regular
// file in the tree, for the ADMIT disk-space calculation.
func listSourceFiles(dir string) (names []string, totalSize int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		totalSize += info.Size()
		if filepath.Dir(path) == dir {
			names = append(names, d.Name())
		}
		return nil
	})
	return names, totalSize, err
}
