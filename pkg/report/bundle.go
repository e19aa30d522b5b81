package report

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pesplanus/internal/models"
	"pesplanus/pkg/visualization"
)

// SummaryName is the workbook entry of a bundle.
const SummaryName = "summary.xlsx"

// WriteBundle writes a zip archive holding the report workbook and the
// files in images under images/. images maps a study path to the file to
// include for it, typically its annotated overlay; studies without an entry
// are only listed in the workbook. Files sharing a base name get a numeric
// suffix in the archive, and each row links to its entry.
func WriteBundle(path string, studies []*models.Study, images map[string]string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := writeBundle(out, studies, images); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

type bundleEntry struct {
	name string
	file string
}

// bundleEntries assigns a unique archive name to every image, in study order.
func bundleEntries(studies []*models.Study, images map[string]string) ([]bundleEntry, map[string]string) {
	var entries []bundleEntry
	links := make(map[string]string)
	used := make(map[string]bool)
	taken := func(name string) bool { return used[name] }

	for _, s := range studies {
		f, ok := images[s.Path]
		if !ok {
			continue
		}
		if _, dup := links[s.Path]; dup {
			continue
		}
		name := visualization.UniquePath("images/"+filepath.Base(f), taken)
		used[name] = true
		links[s.Path] = name
		entries = append(entries, bundleEntry{name: name, file: f})
	}
	return entries, links
}

func writeBundle(w io.Writer, studies []*models.Study, images map[string]string) error {
	entries, links := bundleEntries(studies, images)
	zw := zip.NewWriter(w)

	entry, err := zw.Create(SummaryName)
	if err != nil {
		return err
	}
	if err := Write(entry, studies, links); err != nil {
		return err
	}

	for _, e := range entries {
		if err := addFile(zw, e.name, e.file); err != nil {
			return fmt.Errorf("bundle %s: %w", e.name, err)
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, name, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	entry, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, in)
	return err
}
