// Package convert runs the image to DICOM conversion over an input tree.
package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrsinham/img2dcm/internal/dicom"
	converr "github.com/mrsinham/img2dcm/internal/errors"
	"github.com/mrsinham/img2dcm/internal/match"
	"github.com/mrsinham/img2dcm/internal/raster"
	"github.com/mrsinham/img2dcm/internal/series"
	"github.com/mrsinham/img2dcm/internal/util"
)

// Skip reasons shown in reports.
const (
	ReasonNoReference = "no matching reference"
	ReasonNoImage     = "no matching image"
	// ReasonImageNotPaired marks an image whose reference was paired with
	// another image sharing its stem.
	ReasonImageNotPaired = "reference paired with another image"
)

// Options configures a conversion run.
type Options struct {
	InputRoot    string
	OutputRoot   string
	ImagePattern string // defaults to match.DefaultImagePattern
	DicomPattern string // defaults to match.DefaultDicomPattern

	// Exclusions are never copied from references; nil means
	// util.DefaultExclusions.
	Exclusions util.TagSet
	Unmatched  match.UnmatchedPolicy
	// Workers is the number of groups converted concurrently; values below 1
	// mean 1.
	Workers     int
	CopyPrivate bool
	Grayscale   bool
	// Label burns each reference stem into its image.
	Label         bool
	WriteDICOMDIR bool
	DryRun        bool

	Logger zerolog.Logger
	// NewUID generates series and instance UIDs; nil means util.NewUID.
	NewUID util.UIDGenerator
	// ProgressCallback is called after each group with the number of groups
	// done so far.
	ProgressCallback func(completed, total int)
}

// groupTask is one group to convert, with its position in the report.
type groupTask struct {
	index int
	group *series.Group
}

// groupResult collects everything one group produced.
type groupResult struct {
	index   int
	report  GroupReport
	written []WrittenFile
	skipped []SkippedItem
	failed  []FailedPair
	// paired lists every image handed to a reference, written or not.
	paired []string
}

// Run resolves both file sets under opts.InputRoot, pairs them by stem,
// groups references per directory and writes one merged DICOM per pair under
// opts.OutputRoot.
//
// Resolve and path-mapping errors abort the run. Per-pair errors are logged
// and recorded in the report. When ctx is cancelled no new pair starts and
// the partial report is returned with ctx.Err().
func Run(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if e := log.Debug(); e.Enabled() {
		names := make([]string, 0, len(opts.Exclusions))
		for _, t := range opts.Exclusions.Tags() {
			names = append(names, util.TagName(t))
		}
		e.Strs("exclusions", names).Msg("exclusion list")
	}

	images, refs, err := match.Resolve(opts.InputRoot, opts.ImagePattern, opts.DicomPattern)
	if err != nil {
		return nil, fmt.Errorf("resolve inputs: %w", err)
	}
	images, refs = dropOutputTree(images, refs, opts.InputRoot, opts.OutputRoot)
	log.Info().Int("images", len(images)).Int("references", len(refs)).Str("input", opts.InputRoot).Msg("resolved inputs")

	report := &Report{
		InputRoot:  opts.InputRoot,
		OutputRoot: opts.OutputRoot,
		DryRun:     opts.DryRun,
		Images:     len(images),
		References: len(refs),
	}

	refIndex := match.NewReferenceIndex(refs)
	var matched []match.ImagePath
	for _, im := range images {
		ref, candidates, ok := refIndex.Match(im)
		if ok {
			matched = append(matched, im)
		}
		switch {
		case ok && candidates > 1:
			log.Debug().Str("image", im.Path).Str("reference", ref.Path).Int("candidates", candidates).Msg("ambiguous stem")
		case !ok:
			report.addUnmatchedImage(im, opts.Unmatched)
			if opts.Unmatched != match.UnmatchedIgnore {
				log.Info().Str("image", im.Path).Msg(ReasonNoReference)
			}
		}
	}

	groups, err := series.GroupReferences(refs, opts.InputRoot, opts.OutputRoot, opts.NewUID)
	if err != nil {
		return nil, err
	}

	results, err := convertGroups(ctx, groups, match.NewImageIndex(images), opts)
	paired := make(map[string]struct{}, len(matched))
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Groups = append(report.Groups, res.report)
		report.Written = append(report.Written, res.written...)
		report.Skipped = append(report.Skipped, res.skipped...)
		report.Failed = append(report.Failed, res.failed...)
		for _, p := range res.paired {
			paired[p] = struct{}{}
		}
	}
	if err != nil {
		return report, err
	}

	// A stem shared across directories can leave an image whose reference
	// chose another image.
	for _, im := range matched {
		if _, ok := paired[im.Path]; !ok {
			report.Skipped = append(report.Skipped, SkippedItem{Path: im.Path, Reason: ReasonImageNotPaired})
			log.Info().Str("image", im.Path).Msg(ReasonImageNotPaired)
		}
	}

	if opts.WriteDICOMDIR && !opts.DryRun && len(report.Written) > 0 {
		paths := make([]string, len(report.Written))
		for i, w := range report.Written {
			paths[i] = w.Output
		}
		index, err := dicom.WriteIndex(opts.OutputRoot, paths)
		if err != nil {
			werr := &converr.WriteError{Path: filepath.Join(opts.OutputRoot, dicom.DICOMDIRName), Err: err}
			log.Error().Err(werr).Msg("DICOMDIR not written")
			report.Failed = append(report.Failed, FailedPair{Reference: werr.Path, Kind: converr.KindOf(werr), Err: werr.Error()})
		} else {
			report.Index = index
			log.Info().Str("path", index).Int("files", len(paths)).Msg("DICOMDIR written")
		}
	}

	log.Info().
		Int("groups", len(report.Groups)).
		Int("written", len(report.Written)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("conversion finished")
	return report, nil
}

func (o *Options) normalize() error {
	if o.InputRoot == "" || o.OutputRoot == "" {
		return fmt.Errorf("input and output roots are required")
	}
	var err error
	if o.InputRoot, err = filepath.Abs(o.InputRoot); err != nil {
		return fmt.Errorf("input root: %w", err)
	}
	if o.OutputRoot, err = filepath.Abs(o.OutputRoot); err != nil {
		return fmt.Errorf("output root: %w", err)
	}
	if o.InputRoot == o.OutputRoot {
		return fmt.Errorf("output root must differ from input root %s", o.InputRoot)
	}
	if o.ImagePattern == "" {
		o.ImagePattern = match.DefaultImagePattern
	}
	if o.DicomPattern == "" {
		o.DicomPattern = match.DefaultDicomPattern
	}
	if o.Exclusions == nil {
		o.Exclusions = util.DefaultExclusions()
	}
	if o.Unmatched == "" {
		o.Unmatched = match.UnmatchedSkip
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.NewUID == nil {
		o.NewUID = util.NewUID
	}
	return nil
}

// dropOutputTree removes files under outputRoot when it is nested in
// inputRoot, so a second run never reads its own outputs.
func dropOutputTree(images []match.ImagePath, refs []match.ReferenceRecord, inputRoot, outputRoot string) ([]match.ImagePath, []match.ReferenceRecord) {
	rel, err := filepath.Rel(inputRoot, outputRoot)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return images, refs
	}
	prefix := outputRoot + string(filepath.Separator)

	keptImages := make([]match.ImagePath, 0, len(images))
	for _, im := range images {
		if !strings.HasPrefix(im.Path, prefix) {
			keptImages = append(keptImages, im)
		}
	}
	keptRefs := make([]match.ReferenceRecord, 0, len(refs))
	for _, r := range refs {
		if !strings.HasPrefix(r.Path, prefix) {
			keptRefs = append(keptRefs, r)
		}
	}
	return keptImages, keptRefs
}

// convertGroups runs groups on a pool of opts.Workers goroutines. Results are
// indexed like groups; a group never started leaves a nil entry.
func convertGroups(ctx context.Context, groups []*series.Group, images *match.ImageIndex, opts Options) ([]*groupResult, error) {
	results := make([]*groupResult, len(groups))
	if len(groups) == 0 {
		return results, ctx.Err()
	}

	numWorkers := opts.Workers
	if numWorkers > len(groups) {
		numWorkers = len(groups)
	}

	taskChan := make(chan groupTask)
	resultChan := make(chan *groupResult, len(groups))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				resultChan <- convertGroup(ctx, task, images, opts)
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i, g := range groups {
			select {
			case taskChan <- groupTask{index: i, group: g}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	for res := range resultChan {
		results[res.index] = res
		completed++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(completed, len(groups))
		}
	}
	return results, ctx.Err()
}

// convertGroup converts every reference of one group. It owns the group, so
// the output directory is created without locking.
func convertGroup(ctx context.Context, task groupTask, images *match.ImageIndex, opts Options) *groupResult {
	g := task.group
	log := opts.Logger.With().Str("dir", g.SourceDir).Str("series", g.SeriesUID).Logger()
	res := &groupResult{
		index: task.index,
		report: GroupReport{
			SourceDir: g.SourceDir,
			OutputDir: g.OutputDir,
			SeriesUID: g.SeriesUID,
		},
	}

	for _, ref := range g.References {
		if ctx.Err() != nil {
			return res
		}

		image, candidates, ok := images.Match(ref)
		if !ok {
			res.skipped = append(res.skipped, SkippedItem{Path: ref.Path, Reason: ReasonNoImage})
			log.Debug().Str("reference", ref.Path).Msg(ReasonNoImage)
			continue
		}
		if candidates > 1 {
			log.Debug().Str("reference", ref.Path).Str("image", image.Path).Int("candidates", candidates).Msg("ambiguous stem")
		}

		res.paired = append(res.paired, image.Path)
		out := g.OutputPath(ref)
		if err := convertPair(g, ref, image, out, opts, log); err != nil {
			res.failed = append(res.failed, FailedPair{
				Image:     image.Path,
				Reference: ref.Path,
				Kind:      converr.KindOf(err),
				Err:       err.Error(),
			})
			log.Error().Err(err).Str("image", image.Path).Str("reference", ref.Path).Msg("pair failed")
			continue
		}

		res.written = append(res.written, WrittenFile{
			Image:     image.Path,
			Reference: ref.Path,
			Output:    out,
			SeriesUID: g.SeriesUID,
		})
		res.report.Written++
		log.Info().Str("image", image.Path).Str("output", out).Msg("written")
	}
	return res
}

// convertPair decodes image, merges ref's metadata and writes out.
func convertPair(g *series.Group, ref match.ReferenceRecord, image match.ImagePath, out string, opts Options, log zerolog.Logger) error {
	if opts.DryRun {
		return nil
	}

	reference, err := dicom.ReadReference(ref.Path)
	if err != nil {
		return err
	}

	rasterOpts := raster.Options{Grayscale: opts.Grayscale}
	if opts.Label {
		rasterOpts.Label = ref.Stem
	}
	img, err := raster.Decode(image.Path, rasterOpts)
	if err != nil {
		return err
	}
	if reference.HasGeometry && (reference.Rows != img.Rows || reference.Columns != img.Columns) {
		log.Debug().
			Str("reference", ref.Path).
			Str("reference_size", fmt.Sprintf("%dx%d", reference.Columns, reference.Rows)).
			Str("image_size", fmt.Sprintf("%dx%d", img.Columns, img.Rows)).
			Msg("geometry differs from reference")
	}

	ds, err := dicom.EncodeImage(img, opts.NewUID)
	if err != nil {
		return &converr.CodecError{Path: image.Path, Op: "encode", Err: err}
	}
	ds, err = dicom.Roundtrip(ds)
	if err != nil {
		return &converr.CodecError{Path: image.Path, Op: "roundtrip", Err: err}
	}

	if err := dicom.Merge(&ds, reference, g.SeriesUID, dicom.MergeOptions{
		Exclusions:  opts.Exclusions,
		CopyPrivate: opts.CopyPrivate,
	}); err != nil {
		return err
	}

	if err := g.EnsureOutputDir(); err != nil {
		return err
	}
	return dicom.WriteFile(out, ds, dicom.WriteOptions(opts.CopyPrivate)...)
}
