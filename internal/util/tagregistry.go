// Package util provides tag lookup and UID helpers shared by the converter.
package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagRole describes what a tag carries with respect to the converted image.
type TagRole int

const (
	// RoleContext indicates patient/study/series context inherited from the reference.
	RoleContext TagRole = iota
	// RolePixel indicates tags that describe the pixel data itself.
	RolePixel
	// RoleIdentity indicates identifiers reassigned on every run.
	RoleIdentity
	// RoleDerived indicates tags computed from the converted image geometry.
	RoleDerived
)

// String returns the string representation of a TagRole.
func (r TagRole) String() string {
	switch r {
	case RoleContext:
		return "Context"
	case RolePixel:
		return "Pixel"
	case RoleIdentity:
		return "Identity"
	case RoleDerived:
		return "Derived"
	default:
		return "Unknown"
	}
}

// TagInfo contains information about a DICOM tag, including its role.
type TagInfo struct {
	Name string
	Tag  tag.Tag
	Role TagRole
}

// tagRegistry maps lowercase tag names to their TagInfo.
var tagRegistry = map[string]TagInfo{
	// Pixel description
	"bitsallocated":                      {Name: "BitsAllocated", Tag: tag.BitsAllocated, Role: RolePixel},
	"bitsstored":                         {Name: "BitsStored", Tag: tag.BitsStored, Role: RolePixel},
	"highbit":                            {Name: "HighBit", Tag: tag.HighBit, Role: RolePixel},
	"pixeldata":                          {Name: "PixelData", Tag: tag.PixelData, Role: RolePixel},
	"pixelintensityrelationship":         {Name: "PixelIntensityRelationship", Tag: tag.PixelIntensityRelationship, Role: RolePixel},
	"pixelintensityrelationshipsign":     {Name: "PixelIntensityRelationshipSign", Tag: tag.PixelIntensityRelationshipSign, Role: RolePixel},
	"pixelrepresentation":                {Name: "PixelRepresentation", Tag: tag.PixelRepresentation, Role: RolePixel},
	"pixelspacing":                       {Name: "PixelSpacing", Tag: tag.PixelSpacing, Role: RolePixel},
	"pixelspacingcalibrationdescription": {Name: "PixelSpacingCalibrationDescription", Tag: tag.PixelSpacingCalibrationDescription, Role: RolePixel},
	"pixelspacingcalibrationtype":        {Name: "PixelSpacingCalibrationType", Tag: tag.PixelSpacingCalibrationType, Role: RolePixel},
	"samplesperpixel":                    {Name: "SamplesPerPixel", Tag: tag.SamplesPerPixel, Role: RolePixel},
	"planarconfiguration":                {Name: "PlanarConfiguration", Tag: tag.PlanarConfiguration, Role: RolePixel},
	"numberofframes":                     {Name: "NumberOfFrames", Tag: tag.NumberOfFrames, Role: RolePixel},
	"smallestimagepixelvalue":            {Name: "SmallestImagePixelValue", Tag: tag.SmallestImagePixelValue, Role: RolePixel},
	"largestimagepixelvalue":             {Name: "LargestImagePixelValue", Tag: tag.LargestImagePixelValue, Role: RolePixel},
	"photometricinterpretation":          {Name: "PhotometricInterpretation", Tag: tag.PhotometricInterpretation, Role: RolePixel},
	"rows":                               {Name: "Rows", Tag: tag.Rows, Role: RolePixel},
	"columns":                            {Name: "Columns", Tag: tag.Columns, Role: RolePixel},

	// Identity
	"seriesinstanceuid": {Name: "SeriesInstanceUID", Tag: tag.SeriesInstanceUID, Role: RoleIdentity},

	// Derived
	"collimatorrightverticaledge":   {Name: "CollimatorRightVerticalEdge", Tag: tag.CollimatorRightVerticalEdge, Role: RoleDerived},
	"collimatorlowerhorizontaledge": {Name: "CollimatorLowerHorizontalEdge", Tag: tag.CollimatorLowerHorizontalEdge, Role: RoleDerived},

	// Context
	"patientname":                   {Name: "PatientName", Tag: tag.PatientName, Role: RoleContext},
	"patientid":                     {Name: "PatientID", Tag: tag.PatientID, Role: RoleContext},
	"patientbirthdate":              {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Role: RoleContext},
	"patientsex":                    {Name: "PatientSex", Tag: tag.PatientSex, Role: RoleContext},
	"studyinstanceuid":              {Name: "StudyInstanceUID", Tag: tag.StudyInstanceUID, Role: RoleContext},
	"studydate":                     {Name: "StudyDate", Tag: tag.StudyDate, Role: RoleContext},
	"studydescription":              {Name: "StudyDescription", Tag: tag.StudyDescription, Role: RoleContext},
	"institutionname":               {Name: "InstitutionName", Tag: tag.InstitutionName, Role: RoleContext},
	"referringphysicianname":        {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName, Role: RoleContext},
	"accessionnumber":               {Name: "AccessionNumber", Tag: tag.AccessionNumber, Role: RoleContext},
	"stationname":                   {Name: "StationName", Tag: tag.StationName, Role: RoleContext},
	"modality":                      {Name: "Modality", Tag: tag.Modality, Role: RoleContext},
	"seriesnumber":                  {Name: "SeriesNumber", Tag: tag.SeriesNumber, Role: RoleContext},
	"seriesdescription":             {Name: "SeriesDescription", Tag: tag.SeriesDescription, Role: RoleContext},
	"protocolname":                  {Name: "ProtocolName", Tag: tag.ProtocolName, Role: RoleContext},
	"bodypartexamined":              {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Role: RoleContext},
	"manufacturer":                  {Name: "Manufacturer", Tag: tag.Manufacturer, Role: RoleContext},
	"manufacturermodelname":         {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Role: RoleContext},
	"sopclassuid":                   {Name: "SOPClassUID", Tag: tag.SOPClassUID, Role: RoleContext},
	"sopinstanceuid":                {Name: "SOPInstanceUID", Tag: tag.SOPInstanceUID, Role: RoleContext},
	"instancenumber":                {Name: "InstanceNumber", Tag: tag.InstanceNumber, Role: RoleContext},
	"windowcenter":                  {Name: "WindowCenter", Tag: tag.WindowCenter, Role: RoleContext},
	"windowwidth":                   {Name: "WindowWidth", Tag: tag.WindowWidth, Role: RoleContext},
}

// GetTagByName returns TagInfo for a given tag name.
// The lookup is case-insensitive. If the tag is not found, an error is returned
// with a suggestion for the closest matching tag name (using Levenshtein distance).
func GetTagByName(name string) (TagInfo, error) {
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	// Any other standard keyword is plain context.
	if info, err := tag.FindByKeyword(strings.TrimSpace(name)); err == nil && info.Keyword != "" {
		return TagInfo{Name: info.Keyword, Tag: info.Tag, Role: RoleContext}, nil
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// ParseTag resolves a standard keyword or a numeric tag written as
// "(gggg,eeee)", "gggg,eeee" or "ggggeeee".
func ParseTag(s string) (tag.Tag, error) {
	trimmed := strings.TrimSpace(s)
	if t, ok := parseNumericTag(trimmed); ok {
		return t, nil
	}
	info, err := GetTagByName(trimmed)
	if err != nil {
		return tag.Tag{}, err
	}
	return info.Tag, nil
}

func parseNumericTag(s string) (tag.Tag, bool) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	s = strings.ReplaceAll(s, ",", "")
	if len(s) != 8 {
		return tag.Tag{}, false
	}
	group, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return tag.Tag{}, false
	}
	element, err := strconv.ParseUint(s[4:], 16, 16)
	if err != nil {
		return tag.Tag{}, false
	}
	return tag.Tag{Group: uint16(group), Element: uint16(element)}, true
}

// TagName returns the keyword of t, or its numeric form.
func TagName(t tag.Tag) string {
	for _, info := range tagRegistry {
		if info.Tag == t {
			return info.Name
		}
	}
	if info, err := tag.Find(t); err == nil && info.Keyword != "" {
		return info.Keyword
	}
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// TagSet is a set of tags, used as the merge exclusion list.
type TagSet map[tag.Tag]struct{}

// NewTagSet builds a set from tags.
func NewTagSet(tags ...tag.Tag) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s TagSet) Has(t tag.Tag) bool {
	_, ok := s[t]
	return ok
}

// Add inserts tags into the set.
func (s TagSet) Add(tags ...tag.Tag) {
	for _, t := range tags {
		s[t] = struct{}{}
	}
}

// Tags returns the members sorted by group then element.
func (s TagSet) Tags() []tag.Tag {
	out := make([]tag.Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Element < out[j].Element
	})
	return out
}

// DefaultExclusions returns every registry tag that is not inherited context:
// pixel description, the series identity and the derived collimator edges.
func DefaultExclusions() TagSet {
	s := make(TagSet)
	for _, info := range tagRegistry {
		if info.Role != RoleContext {
			s.Add(info.Tag)
		}
	}
	return s
}

// BuildExclusions parses names into a TagSet. Unless replaceDefaults is set,
// the result also contains DefaultExclusions.
func BuildExclusions(names []string, replaceDefaults bool) (TagSet, error) {
	s := make(TagSet)
	if !replaceDefaults {
		s = DefaultExclusions()
	}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		t, err := ParseTag(name)
		if err != nil {
			return nil, err
		}
		s.Add(t)
	}
	return s, nil
}

// findClosestTagName finds the closest matching tag name using Levenshtein distance.
// Returns empty string if no close match is found (distance > 5).
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range tagRegistry {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance || (distance == bestDistance && info.Name < bestMatch) {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
