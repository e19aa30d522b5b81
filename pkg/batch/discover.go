package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pesplanus/internal/models"
	"pesplanus/pkg/imaging"
)

// Discover walks root and returns a pending study for every supported
// image, sorted by patient, side and file name. Hidden files and
// directories are skipped, as is every path for which skip returns true
// (for example sidecar masks). root may also be a single file.
func Discover(root string, extensions []string, skip func(path string) bool) ([]*models.Study, error) {
	if len(extensions) == 0 {
		extensions = imaging.DefaultExtensions
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !imaging.IsSupported(root, extensions) {
			return nil, fmt.Errorf("unsupported image format: %s", filepath.Base(root))
		}
		return []*models.Study{models.NewStudy(root)}, nil
	}

	var studies []*models.Study
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !imaging.IsSupported(path, extensions) {
			return nil
		}
		if skip != nil && skip(path) {
			return nil
		}
		studies = append(studies, models.NewStudy(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	models.SortStudies(studies)
	return studies, nil
}
