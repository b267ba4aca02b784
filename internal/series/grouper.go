// Package series partitions reference DICOMs into synthetic series, one per
// source directory.
package series

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	converr "github.com/mrsinham/img2dcm/internal/errors"
	"github.com/mrsinham/img2dcm/internal/match"
	"github.com/mrsinham/img2dcm/internal/util"
)

// Group is the set of references sharing a source directory. Every file
// written for the group carries SeriesUID.
type Group struct {
	SourceDir  string
	OutputDir  string
	SeriesUID  string
	References []match.ReferenceRecord

	dirReady bool
}

// GroupReferences groups refs by containing directory and maps each directory
// under outputRoot. Groups are returned sorted by source directory, each with
// a fresh UID from newUID (util.NewUID when nil).
//
// A directory outside inputRoot yields a *errors.PathMappingError.
func GroupReferences(refs []match.ReferenceRecord, inputRoot, outputRoot string, newUID util.UIDGenerator) ([]*Group, error) {
	if newUID == nil {
		newUID = util.NewUID
	}

	byDir := make(map[string]*Group)
	for _, ref := range refs {
		g, ok := byDir[ref.Dir]
		if !ok {
			out, err := MapOutputDir(ref.Dir, inputRoot, outputRoot)
			if err != nil {
				return nil, err
			}
			g = &Group{SourceDir: ref.Dir, OutputDir: out}
			byDir[ref.Dir] = g
		}
		g.References = append(g.References, ref)
	}

	groups := make([]*Group, 0, len(byDir))
	for _, g := range byDir {
		sort.Slice(g.References, func(i, j int) bool { return g.References[i].Path < g.References[j].Path })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].SourceDir < groups[j].SourceDir })

	// UIDs are assigned after sorting so a deterministic generator yields
	// the same UID per directory on every run.
	for _, g := range groups {
		g.SeriesUID = newUID()
	}
	return groups, nil
}

// MapOutputDir replaces the inputRoot prefix of dir with outputRoot.
func MapOutputDir(dir, inputRoot, outputRoot string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(inputRoot), filepath.Clean(dir))
	if err != nil {
		return "", &converr.PathMappingError{Dir: dir, InputRoot: inputRoot, Err: err}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &converr.PathMappingError{Dir: dir, InputRoot: inputRoot, Err: converr.ErrNotUnderRoot}
	}
	return filepath.Join(outputRoot, rel), nil
}

// EnsureOutputDir creates the group's output directory and its parents.
// Calling it again is a no-op.
func (g *Group) EnsureOutputDir() error {
	if g.dirReady {
		return nil
	}
	if err := os.MkdirAll(g.OutputDir, 0755); err != nil {
		return &converr.WriteError{Path: g.OutputDir, Err: fmt.Errorf("create output directory: %w", err)}
	}
	g.dirReady = true
	return nil
}

// OutputPath returns where the output for ref is written.
func (g *Group) OutputPath(ref match.ReferenceRecord) string {
	return filepath.Join(g.OutputDir, ref.Stem+".dcm")
}
