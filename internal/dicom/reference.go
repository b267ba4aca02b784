package dicom

import (
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	converr "github.com/mrsinham/img2dcm/internal/errors"
)

// Reference is a parsed reference DICOM whose metadata is inherited by a
// converted image. Pixel data is never loaded.
type Reference struct {
	Path        string
	Dataset     dicom.Dataset
	Rows        int
	Columns     int
	HasGeometry bool
}

// ReadReference parses the reference at path without its pixel data.
// An unreadable file, or one without any element outside the file meta group,
// yields a *errors.ReferenceReadError.
func ReadReference(path string) (Reference, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return Reference{}, &converr.ReferenceReadError{Path: path, Err: err}
	}
	if contentElements(ds) == 0 {
		return Reference{}, &converr.ReferenceReadError{Path: path, Err: converr.ErrNoElements}
	}

	ref := Reference{Path: path, Dataset: ds}
	rows, okRows := firstInt(ds, tag.Rows)
	cols, okCols := firstInt(ds, tag.Columns)
	if okRows && okCols {
		ref.Rows, ref.Columns, ref.HasGeometry = rows, cols, true
	}
	return ref, nil
}
