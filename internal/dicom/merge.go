package dicom

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	converr "github.com/mrsinham/img2dcm/internal/errors"
	"github.com/mrsinham/img2dcm/internal/util"
)

// MergeOptions controls which reference elements reach the output.
type MergeOptions struct {
	// Exclusions are never copied from the reference.
	Exclusions util.TagSet
	// CopyPrivate also copies odd-group private elements.
	CopyPrivate bool
}

// Merge copies the reference's metadata onto pixel, the dataset produced by
// EncodeImage and Roundtrip.
//
// Every reference element is copied, overwriting pixel's, except file meta
// elements, PixelData, tags in opts.Exclusions and private tags (unless
// opts.CopyPrivate). SeriesInstanceUID is then set to seriesUID, and the two
// collimator edges are derived from the merged geometry:
// CollimatorRightVerticalEdge = Columns+1, CollimatorLowerHorizontalEdge =
// Rows+1.
//
// On error pixel is left untouched.
func Merge(pixel *dicom.Dataset, ref Reference, seriesUID string, opts MergeOptions) error {
	if contentElements(ref.Dataset) == 0 {
		return &converr.ReferenceReadError{Path: ref.Path, Err: converr.ErrNoElements}
	}
	rows, okRows := mergedInt(*pixel, ref.Dataset, tag.Rows, opts)
	cols, okCols := mergedInt(*pixel, ref.Dataset, tag.Columns, opts)
	if !okRows || !okCols {
		return &converr.CodecError{Path: ref.Path, Op: "geometry", Err: converr.ErrNoGeometry}
	}

	right, err := dicom.NewElement(tag.CollimatorRightVerticalEdge, []string{strconv.Itoa(cols + 1)})
	if err != nil {
		return fmt.Errorf("derive collimator right edge: %w", err)
	}
	lower, err := dicom.NewElement(tag.CollimatorLowerHorizontalEdge, []string{strconv.Itoa(rows + 1)})
	if err != nil {
		return fmt.Errorf("derive collimator lower edge: %w", err)
	}
	series, err := dicom.NewElement(tag.SeriesInstanceUID, []string{seriesUID})
	if err != nil {
		return fmt.Errorf("series instance uid: %w", err)
	}

	index := make(map[tag.Tag]int, len(pixel.Elements))
	for i, el := range pixel.Elements {
		index[el.Tag] = i
	}
	set := func(el *dicom.Element) {
		if i, ok := index[el.Tag]; ok {
			pixel.Elements[i] = el
			return
		}
		index[el.Tag] = len(pixel.Elements)
		pixel.Elements = append(pixel.Elements, el)
	}

	for _, el := range ref.Dataset.Elements {
		if !copyable(el.Tag, opts) {
			continue
		}
		set(cloneElement(el))
	}

	set(series)
	set(right)
	set(lower)
	syncFileMeta(pixel, set)
	sortElements(pixel)
	return nil
}

// mergedInt returns the value t will have once ref is merged onto pixel: the
// reference's when the copy keeps it, pixel's otherwise. pixel must carry t.
func mergedInt(pixel, ref dicom.Dataset, t tag.Tag, opts MergeOptions) (int, bool) {
	own, ok := firstInt(pixel, t)
	if !ok {
		return 0, false
	}
	if copyable(t, opts) {
		if v, ok := firstInt(ref, t); ok {
			return v, true
		}
	}
	return own, true
}

func copyable(t tag.Tag, opts MergeOptions) bool {
	switch {
	case t.Group == metaGroup:
		return false
	case t == tag.PixelData:
		return false
	case opts.Exclusions.Has(t):
		return false
	case t.Group%2 == 1 && !opts.CopyPrivate:
		return false
	}
	return true
}

// cloneElement copies el's header so the output never aliases the reference.
// Values are immutable once parsed and are shared.
func cloneElement(el *dicom.Element) *dicom.Element {
	c := *el
	return &c
}

// syncFileMeta points the media storage UIDs at the merged SOP identity.
func syncFileMeta(ds *dicom.Dataset, set func(*dicom.Element)) {
	if v := firstString(*ds, tag.SOPClassUID); v != "" {
		set(mustNewElement(tag.MediaStorageSOPClassUID, []string{v}))
	}
	if v := firstString(*ds, tag.SOPInstanceUID); v != "" {
		set(mustNewElement(tag.MediaStorageSOPInstanceUID, []string{v}))
	}
}
