package dicom

import (
	"os"

	"github.com/suyashkumar/dicom"

	converr "github.com/mrsinham/img2dcm/internal/errors"
)

// WriteOptions returns the writer options for a merged dataset. Private
// elements carry VRs the dictionary cannot check.
func WriteOptions(copyPrivate bool) []dicom.WriteOption {
	if copyPrivate {
		return []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
	}
	return nil
}

// WriteFile writes ds to filename, replacing any existing file. A failed
// write leaves no partial file behind and yields a *errors.WriteError.
func WriteFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	if err := writeDatasetToFile(filename, ds, opts...); err != nil {
		return &converr.WriteError{Path: filename, Err: err}
	}
	return nil
}

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, ds, opts...); err != nil {
		_ = f.Close()
		_ = os.Remove(filename)
		return err
	}
	return f.Close()
}
