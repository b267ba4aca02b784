// Package errors provides the error kinds reported by the conversion pipeline.
//
// PathMappingError is fatal for a run. The other kinds are scoped to a single
// (image, reference) pair: the pipeline records them and moves on.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNoElements       = errors.New("img2dcm: reference has no elements")
	ErrNoGeometry       = errors.New("img2dcm: dataset has no Rows/Columns")
	ErrUnsupportedImage = errors.New("img2dcm: unsupported image")
	ErrNotUnderRoot     = errors.New("img2dcm: path is not under the input root")
)

// Kind names an error category as shown in reports.
type Kind string

const (
	KindPathMapping   Kind = "path-mapping"
	KindReferenceRead Kind = "reference-read"
	KindCodec         Kind = "codec"
	KindWrite         Kind = "write"
	KindUnmatched     Kind = "unmatched"
	KindUnknown       Kind = "unknown"
)

// PathMappingError reports that an output directory cannot be derived from
// the input root.
type PathMappingError struct {
	Dir       string
	InputRoot string
	Err       error
}

func (e *PathMappingError) Error() string {
	return fmt.Sprintf("map %s under input root %s: %v", e.Dir, e.InputRoot, e.Err)
}

func (e *PathMappingError) Unwrap() error { return e.Err }

// ReferenceReadError reports an unreadable reference DICOM.
type ReferenceReadError struct {
	Path string
	Err  error
}

func (e *ReferenceReadError) Error() string {
	return fmt.Sprintf("read reference %s: %v", e.Path, e.Err)
}

func (e *ReferenceReadError) Unwrap() error { return e.Err }

// CodecError reports a raster decode or DICOM encode failure.
type CodecError struct {
	Path string
	Op   string // "decode", "encode", "roundtrip", "geometry"
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// WriteError reports a destination that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UnmatchedError reports an image without a reference when unmatched images
// are configured to count as failures.
type UnmatchedError struct {
	Path string
}

func (e *UnmatchedError) Error() string {
	return fmt.Sprintf("no reference matches %s", e.Path)
}

// KindOf classifies err into one of the pipeline error kinds.
func KindOf(err error) Kind {
	var (
		pm *PathMappingError
		rr *ReferenceReadError
		ce *CodecError
		we *WriteError
		ue *UnmatchedError
	)
	switch {
	case errors.As(err, &pm):
		return KindPathMapping
	case errors.As(err, &rr):
		return KindReferenceRead
	case errors.As(err, &ce):
		return KindCodec
	case errors.As(err, &we):
		return KindWrite
	case errors.As(err, &ue):
		return KindUnmatched
	default:
		return KindUnknown
	}
}
