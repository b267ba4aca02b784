// Package match resolves the image and reference file sets and pairs them by
// filename stem.
package match

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Default glob patterns, relative to the input root.
const (
	DefaultImagePattern = "**/*.png"
	DefaultDicomPattern = "**/*.dcm"
)

// ImagePath is a source raster image.
type ImagePath struct {
	Path   string // full path
	Stem   string // basename without extension
	RelDir string // containing directory relative to the input root
}

// ReferenceRecord is a reference DICOM file. Its tags are read lazily by the
// pipeline so a corrupt file only fails its own pair.
type ReferenceRecord struct {
	Path   string // full path
	Stem   string // basename without extension
	Dir    string // containing directory
	RelDir string // containing directory relative to the input root
}

// Stem returns the basename of p without its last extension.
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Resolve globs imagePattern and dicomPattern under inputRoot. Patterns use
// doublestar syntax, so "**" matches any number of directories. Finding
// nothing is not an error.
func Resolve(inputRoot, imagePattern, dicomPattern string) ([]ImagePath, []ReferenceRecord, error) {
	info, err := os.Stat(inputRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("input root: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("input root %s is not a directory", inputRoot)
	}

	imageFiles, err := glob(inputRoot, imagePattern)
	if err != nil {
		return nil, nil, fmt.Errorf("image pattern: %w", err)
	}
	dicomFiles, err := glob(inputRoot, dicomPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("dicom pattern: %w", err)
	}

	images := make([]ImagePath, 0, len(imageFiles))
	for _, rel := range imageFiles {
		images = append(images, ImagePath{
			Path:   filepath.Join(inputRoot, rel),
			Stem:   Stem(rel),
			RelDir: filepath.Dir(rel),
		})
	}

	refs := make([]ReferenceRecord, 0, len(dicomFiles))
	for _, rel := range dicomFiles {
		full := filepath.Join(inputRoot, rel)
		refs = append(refs, ReferenceRecord{
			Path:   full,
			Stem:   Stem(rel),
			Dir:    filepath.Dir(full),
			RelDir: filepath.Dir(rel),
		})
	}

	return images, refs, nil
}

// glob returns the regular files under root matching pattern, as sorted
// OS-specific paths relative to root.
func glob(root, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if path.IsAbs(pattern) {
		return nil, fmt.Errorf("pattern %q must be relative to the input root", pattern)
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.FromSlash(m)
	}
	sort.Strings(out)
	return out, nil
}
