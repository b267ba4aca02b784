// Package dicom builds, merges and writes the DICOM objects produced by the
// converter.
package dicom

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	metaGroup = 0x0002

	// ExplicitVRLittleEndian is the transfer syntax of every file we write.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	// SecondaryCaptureImageStorage is the SOP class of a freshly encoded image.
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"
	// MediaStorageDirectoryStorage is the SOP class of a DICOMDIR.
	MediaStorageDirectoryStorage = "1.2.840.10008.1.3.10"
)

// mustNewElement creates a new DICOM element or panics on error.
// Only used with dictionary tags and value types known to be valid.
func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// sortElements orders elements by (Group, Element) as the writer expects.
func sortElements(ds *dicom.Dataset) {
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		if ds.Elements[i].Tag.Group != ds.Elements[j].Tag.Group {
			return ds.Elements[i].Tag.Group < ds.Elements[j].Tag.Group
		}
		return ds.Elements[i].Tag.Element < ds.Elements[j].Tag.Element
	})
}

// firstInt returns the first integer value of t in ds. Integer Strings are
// parsed as well.
func firstInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(v[0])
			return n, err == nil
		}
	}
	return 0, false
}

// firstString returns the first string value of t in ds, or "".
func firstString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return ""
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// contentElements counts elements outside the file meta group.
func contentElements(ds dicom.Dataset) int {
	n := 0
	for _, el := range ds.Elements {
		if el.Tag.Group != metaGroup {
			n++
		}
	}
	return n
}
