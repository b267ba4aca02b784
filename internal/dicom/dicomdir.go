package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/img2dcm/internal/util"
)

// DICOMDIRName is the file name of the index written at the output root.
const DICOMDIRName = "DICOMDIR"

type indexImage struct {
	relPath        string
	sopClassUID    string
	sopInstanceUID string
	transferSyntax string
}

type indexSeries struct {
	uid      string
	number   string
	modality string
	images   []indexImage
}

type indexStudy struct {
	uid    string
	id     string
	date   string
	time   string
	series []*indexSeries
}

type indexPatient struct {
	id      string
	name    string
	studies []*indexStudy
}

// WriteIndex writes a DICOMDIR at outputRoot listing files, which must live
// under outputRoot. Records follow the PATIENT/STUDY/SERIES/IMAGE hierarchy
// read from each file's own tags. Unreadable files are left out.
func WriteIndex(outputRoot string, files []string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to index")
	}

	patients, err := collectIndex(outputRoot, files)
	if err != nil {
		return "", err
	}
	if len(patients) == 0 {
		return "", fmt.Errorf("none of %d files could be indexed", len(files))
	}

	var recordItems [][]*dicom.Element
	for _, patient := range patients {
		recordItems = append(recordItems, directoryRecord("PATIENT",
			mustNewElement(tag.PatientID, []string{patient.id}),
			mustNewElement(tag.PatientName, []string{patient.name}),
		))
		for _, study := range patient.studies {
			recordItems = append(recordItems, directoryRecord("STUDY",
				mustNewElement(tag.StudyInstanceUID, []string{study.uid}),
				mustNewElement(tag.StudyID, []string{study.id}),
				mustNewElement(tag.StudyDate, []string{study.date}),
				mustNewElement(tag.StudyTime, []string{study.time}),
			))
			for _, series := range study.series {
				recordItems = append(recordItems, directoryRecord("SERIES",
					mustNewElement(tag.Modality, []string{series.modality}),
					mustNewElement(tag.SeriesInstanceUID, []string{series.uid}),
					mustNewElement(tag.SeriesNumber, []string{series.number}),
				))
				for _, image := range series.images {
					recordItems = append(recordItems, directoryRecord("IMAGE",
						mustNewElement(tag.ReferencedFileID, strings.Split(image.relPath, "/")),
						mustNewElement(tag.ReferencedSOPClassUIDInFile, []string{image.sopClassUID}),
						mustNewElement(tag.ReferencedSOPInstanceUIDInFile, []string{image.sopInstanceUID}),
						mustNewElement(tag.ReferencedTransferSyntaxUIDInFile, []string{image.transferSyntax}),
					))
				}
			}
		}
	}

	filesetID := strings.ToUpper(filepath.Base(filepath.Clean(outputRoot)))
	if len(filesetID) > 16 {
		filesetID = filesetID[:16]
	}

	seqElem, err := dicom.NewElement(tag.DirectoryRecordSequence, recordItems)
	if err != nil {
		return "", fmt.Errorf("create directory record sequence: %w", err)
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{MediaStorageDirectoryStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{util.NewUID()}),
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.ImplementationClassUID, []string{implementationClassUID}),
		mustNewElement(tag.FileSetID, []string{filesetID}),
		// Patched once the record positions are known.
		mustNewElement(tag.OffsetOfTheFirstDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.OffsetOfTheLastDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.FileSetConsistencyFlag, []int{0}),
		seqElem,
	}}

	path := filepath.Join(outputRoot, DICOMDIRName)
	if err := writeDatasetToFile(path, ds); err != nil {
		return "", fmt.Errorf("write DICOMDIR: %w", err)
	}
	if err := updateDICOMDIROffsets(path); err != nil {
		return "", fmt.Errorf("update DICOMDIR offsets: %w", err)
	}
	return path, nil
}

// directoryRecord builds one record with zeroed offsets followed by attrs.
func directoryRecord(recordType string, attrs ...*dicom.Element) []*dicom.Element {
	elems := []*dicom.Element{
		mustNewElement(tag.OffsetOfTheNextDirectoryRecord, []int{0}),
		mustNewElement(tag.RecordInUseFlag, []int{0xFFFF}),
		mustNewElement(tag.OffsetOfReferencedLowerLevelDirectoryEntity, []int{0}),
		mustNewElement(tag.DirectoryRecordType, []string{recordType}),
	}
	return append(elems, attrs...)
}

// collectIndex reads every file's identity tags and nests them by patient,
// study and series, in first-seen order over the sorted file list.
func collectIndex(outputRoot string, files []string) ([]*indexPatient, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var patients []*indexPatient
	patientByID := map[string]*indexPatient{}
	studyByUID := map[string]*indexStudy{}
	seriesByUID := map[string]*indexSeries{}

	for _, file := range sorted {
		rel, err := filepath.Rel(outputRoot, file)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("%s is not under %s", file, outputRoot)
		}
		ds, err := parseDICOMTolerant(file)
		if err != nil {
			continue
		}

		patientID := firstString(ds, tag.PatientID)
		patient, ok := patientByID[patientID]
		if !ok {
			patient = &indexPatient{id: patientID, name: firstString(ds, tag.PatientName)}
			patientByID[patientID] = patient
			patients = append(patients, patient)
		}

		studyUID := firstString(ds, tag.StudyInstanceUID)
		study, ok := studyByUID[studyUID]
		if !ok {
			study = &indexStudy{
				uid:  studyUID,
				id:   firstString(ds, tag.StudyID),
				date: firstString(ds, tag.StudyDate),
				time: firstString(ds, tag.StudyTime),
			}
			studyByUID[studyUID] = study
			patient.studies = append(patient.studies, study)
		}

		seriesUID := firstString(ds, tag.SeriesInstanceUID)
		series, ok := seriesByUID[seriesUID]
		if !ok {
			series = &indexSeries{
				uid:      seriesUID,
				number:   firstString(ds, tag.SeriesNumber),
				modality: firstString(ds, tag.Modality),
			}
			seriesByUID[seriesUID] = series
			study.series = append(study.series, series)
		}

		ts := firstString(ds, tag.TransferSyntaxUID)
		if ts == "" {
			ts = ExplicitVRLittleEndian
		}
		series.images = append(series.images, indexImage{
			relPath:        filepath.ToSlash(rel),
			sopClassUID:    firstString(ds, tag.SOPClassUID),
			sopInstanceUID: firstString(ds, tag.SOPInstanceUID),
			transferSyntax: ts,
		})
	}
	return patients, nil
}

// parseDICOMTolerant parses a DICOM file element-by-element and keeps
// whatever parsed before the first error.
func parseDICOMTolerant(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			break
		}
		elements = append(elements, elem)
	}
	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	meta := p.GetMetadata()
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

// updateDICOMDIROffsets patches the record offsets of a freshly written
// DICOMDIR with their byte positions.
func updateDICOMDIROffsets(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read DICOMDIR: %w", err)
	}

	positions := findDirectoryRecordPositions(data)
	if len(positions) == 0 {
		return fmt.Errorf("no directory records found")
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return fmt.Errorf("parse DICOMDIR: %w", err)
	}
	seqElem, err := ds.FindElementByTag(tag.DirectoryRecordSequence)
	if err != nil {
		return fmt.Errorf("find directory record sequence: %w", err)
	}
	items, ok := seqElem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return fmt.Errorf("directory record sequence has unexpected value type")
	}

	var records []recordInfo
	for i, item := range items {
		if i >= len(positions) {
			break
		}
		recordType := ""
		for _, elem := range item.GetValue().([]*dicom.Element) {
			if elem.Tag == tag.DirectoryRecordType {
				recordType = dicom.MustGetStrings(elem.Value)[0]
				break
			}
		}
		records = append(records, recordInfo{Type: recordType, Position: positions[i]})
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open file for update: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Value of a 4-byte UL element starts 8 bytes after its tag in explicit VR.
	first, last := rootOffsets(records)
	if pos := findTagPosition(data, 0, 0x0004, 0x1200, len(data)); pos >= 0 {
		if err := updateUInt32At(f, pos+8, first); err != nil {
			return fmt.Errorf("update first offset: %w", err)
		}
	}
	if pos := findTagPosition(data, 0, 0x0004, 0x1202, len(data)); pos >= 0 {
		if err := updateUInt32At(f, pos+8, last); err != nil {
			return fmt.Errorf("update last offset: %w", err)
		}
	}

	links := buildHierarchy(records)
	for i, rec := range records {
		start := int(rec.Position)
		if pos := findTagPosition(data, start, 0x0004, 0x1400, 500); pos >= 0 {
			if err := updateUInt32At(f, pos+8, links[i].NextSibling); err != nil {
				return fmt.Errorf("update next offset at record %d: %w", i, err)
			}
		}
		if pos := findTagPosition(data, start, 0x0004, 0x1420, 500); pos >= 0 {
			if err := updateUInt32At(f, pos+8, links[i].FirstChild); err != nil {
				return fmt.Errorf("update lower offset at record %d: %w", i, err)
			}
		}
	}
	return nil
}

// findDirectoryRecordPositions returns the byte position of every item tag
// (FFFE,E000) after the preamble. Records hold no nested sequences, so each
// item is a directory record.
func findDirectoryRecordPositions(data []byte) []int64 {
	itemTag := []byte{0xFE, 0xFF, 0x00, 0xE0}
	var positions []int64
	for i := 132; i < len(data)-4; i++ {
		if bytes.Equal(data[i:i+4], itemTag) {
			positions = append(positions, int64(i))
		}
	}
	return positions
}

// recordInfo locates one directory record in the file.
type recordInfo struct {
	Type     string
	Position int64
}

// recordLinks holds the offsets to patch into one record.
type recordLinks struct {
	NextSibling uint32
	FirstChild  uint32
}

// buildHierarchy links records written in depth-first order: each record
// points to its next sibling and its first child.
func buildHierarchy(records []recordInfo) []recordLinks {
	links := make([]recordLinks, len(records))

	// lastAtLevel[l] is the index of the most recent record at level l, or -1.
	lastAtLevel := []int{-1, -1, -1, -1}
	for i, rec := range records {
		level := hierarchyLevel(rec.Type)
		if level < 0 {
			continue
		}
		if prev := lastAtLevel[level]; prev >= 0 {
			links[prev].NextSibling = uint32(rec.Position)
		}
		if level > 0 {
			if parent := lastAtLevel[level-1]; parent >= 0 && links[parent].FirstChild == 0 {
				links[parent].FirstChild = uint32(rec.Position)
			}
		}
		lastAtLevel[level] = i
		// A new parent starts a fresh run of children.
		for l := level + 1; l < len(lastAtLevel); l++ {
			lastAtLevel[l] = -1
		}
	}
	return links
}

// rootOffsets returns the positions of the first and last top-level records.
func rootOffsets(records []recordInfo) (first, last uint32) {
	for _, rec := range records {
		if hierarchyLevel(rec.Type) != 0 {
			continue
		}
		if first == 0 {
			first = uint32(rec.Position)
		}
		last = uint32(rec.Position)
	}
	return first, last
}

// hierarchyLevel returns 0 for PATIENT down to 3 for IMAGE, or -1.
func hierarchyLevel(recordType string) int {
	switch recordType {
	case "PATIENT":
		return 0
	case "STUDY":
		return 1
	case "SERIES":
		return 2
	case "IMAGE":
		return 3
	default:
		return -1
	}
}

// findTagPosition returns the position of (group,element) within window bytes
// after start, or -1.
func findTagPosition(data []byte, start int, group, element uint16, window int) int64 {
	tagBytes := make([]byte, 4)
	binary.LittleEndian.PutUint16(tagBytes[0:2], group)
	binary.LittleEndian.PutUint16(tagBytes[2:4], element)

	for i := start; i < len(data)-4 && i < start+window; i++ {
		if bytes.Equal(data[i:i+4], tagBytes) {
			return int64(i)
		}
	}
	return -1
}

// updateUInt32At writes a uint32 value at the specified position in the file
func updateUInt32At(f io.WriteSeeker, pos int64, value uint32) error {
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, value)
}
