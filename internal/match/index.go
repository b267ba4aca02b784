package match

import "sort"

// ReferenceIndex maps a stem to every reference carrying it.
type ReferenceIndex struct {
	byStem map[string][]ReferenceRecord
}

// NewReferenceIndex indexes refs by exact stem.
func NewReferenceIndex(refs []ReferenceRecord) *ReferenceIndex {
	idx := &ReferenceIndex{byStem: make(map[string][]ReferenceRecord)}
	for _, r := range refs {
		idx.byStem[r.Stem] = append(idx.byStem[r.Stem], r)
	}
	for stem := range idx.byStem {
		candidates := idx.byStem[stem]
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	}
	return idx
}

// Match returns the reference paired with image and the number of references
// that shared its stem. ok is false when no reference has the same stem.
//
// Ties are broken by preferring the reference whose directory, relative to the
// input root, equals the image's; then the lexicographically first path.
func (idx *ReferenceIndex) Match(image ImagePath) (ref ReferenceRecord, candidates int, ok bool) {
	list := idx.byStem[image.Stem]
	if len(list) == 0 {
		return ReferenceRecord{}, 0, false
	}
	for _, r := range list {
		if r.RelDir == image.RelDir {
			return r, len(list), true
		}
	}
	return list[0], len(list), true
}

// ImageIndex maps a stem to every image carrying it.
type ImageIndex struct {
	byStem map[string][]ImagePath
}

// NewImageIndex indexes images by exact stem.
func NewImageIndex(images []ImagePath) *ImageIndex {
	idx := &ImageIndex{byStem: make(map[string][]ImagePath)}
	for _, im := range images {
		idx.byStem[im.Stem] = append(idx.byStem[im.Stem], im)
	}
	for stem := range idx.byStem {
		candidates := idx.byStem[stem]
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	}
	return idx
}

// Match returns the image paired with ref, using the same tie-break rules as
// ReferenceIndex.Match.
func (idx *ImageIndex) Match(ref ReferenceRecord) (image ImagePath, candidates int, ok bool) {
	list := idx.byStem[ref.Stem]
	if len(list) == 0 {
		return ImagePath{}, 0, false
	}
	for _, im := range list {
		if im.RelDir == ref.RelDir {
			return im, len(list), true
		}
	}
	return list[0], len(list), true
}

