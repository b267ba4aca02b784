package dicom

import (
	"bytes"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/img2dcm/internal/raster"
	"github.com/mrsinham/img2dcm/internal/util"
)

// implementationClassUID identifies files written by this tool.
var implementationClassUID = util.DeterministicUID("github.com/mrsinham/img2dcm")

// EncodeImage builds a minimal Secondary Capture dataset holding img's pixels.
// UIDs are drawn from newUID (util.NewUID when nil).
func EncodeImage(img *raster.Image, newUID util.UIDGenerator) (dicom.Dataset, error) {
	if img == nil || img.Rows <= 0 || img.Columns <= 0 {
		return dicom.Dataset{}, fmt.Errorf("encode: empty image")
	}
	if newUID == nil {
		newUID = util.NewUID
	}

	pixels := img.Rows * img.Columns
	var nativeData frame.INativeFrame
	switch img.BitsAllocated {
	case 8:
		if len(img.Pix8) != pixels*img.SamplesPerPixel {
			return dicom.Dataset{}, fmt.Errorf("encode: %d samples for %dx%dx%d image", len(img.Pix8), img.Columns, img.Rows, img.SamplesPerPixel)
		}
		nf := frame.NewNativeFrame[uint8](8, img.Rows, img.Columns, pixels, img.SamplesPerPixel)
		nf.RawData = img.Pix8
		nativeData = nf
	case 16:
		if len(img.Pix16) != pixels*img.SamplesPerPixel {
			return dicom.Dataset{}, fmt.Errorf("encode: %d samples for %dx%dx%d image", len(img.Pix16), img.Columns, img.Rows, img.SamplesPerPixel)
		}
		nf := frame.NewNativeFrame[uint16](16, img.Rows, img.Columns, pixels, img.SamplesPerPixel)
		nf.RawData = img.Pix16
		nativeData = nf
	default:
		return dicom.Dataset{}, fmt.Errorf("encode: unsupported bits allocated %d", img.BitsAllocated)
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeData,
			},
		},
	}

	sopInstanceUID := newUID()
	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{SecondaryCaptureImageStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.ImplementationClassUID, []string{implementationClassUID}),

		mustNewElement(tag.SOPClassUID, []string{SecondaryCaptureImageStorage}),
		mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.Modality, []string{"OT"}),
		mustNewElement(tag.ConversionType, []string{"WSD"}),
		mustNewElement(tag.StudyInstanceUID, []string{newUID()}),
		mustNewElement(tag.SeriesInstanceUID, []string{newUID()}),
		mustNewElement(tag.InstanceNumber, []string{"1"}),

		mustNewElement(tag.SamplesPerPixel, []int{img.SamplesPerPixel}),
		mustNewElement(tag.PhotometricInterpretation, []string{img.Photometric}),
		mustNewElement(tag.Rows, []int{img.Rows}),
		mustNewElement(tag.Columns, []int{img.Columns}),
		mustNewElement(tag.BitsAllocated, []int{img.BitsAllocated}),
		mustNewElement(tag.BitsStored, []int{img.BitsAllocated}),
		mustNewElement(tag.HighBit, []int{img.BitsAllocated - 1}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.PixelData, pixelDataInfo),
	}
	if img.SamplesPerPixel > 1 {
		elements = append(elements, mustNewElement(tag.PlanarConfiguration, []int{0}))
	}

	ds := dicom.Dataset{Elements: elements}
	sortElements(&ds)
	return ds, nil
}

// Roundtrip serializes ds to memory and parses it back, so every element
// carries the value types the parser produces.
func Roundtrip(ds dicom.Dataset, opts ...dicom.WriteOption) (dicom.Dataset, error) {
	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds, opts...); err != nil {
		return dicom.Dataset{}, fmt.Errorf("roundtrip write: %w", err)
	}
	b := buf.Bytes()
	parsed, err := dicom.Parse(bytes.NewReader(b), int64(len(b)), nil)
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("roundtrip parse: %w", err)
	}
	return parsed, nil
}
