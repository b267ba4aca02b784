package convert

import (
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	converr "github.com/mrsinham/img2dcm/internal/errors"
	"github.com/mrsinham/img2dcm/internal/match"
	"github.com/mrsinham/img2dcm/internal/util"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

func element(t *testing.T, tg tag.Tag, v any) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, v)
	require.NoError(t, err)
	return el
}

// writeRef writes a reference DICOM without pixel data at root/rel.
func writeRef(t *testing.T, root, rel string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	sop := util.DeterministicUID("sop:" + rel)
	ds := dicom.Dataset{Elements: []*dicom.Element{
		element(t, tag.MediaStorageSOPClassUID, []string{ctImageStorage}),
		element(t, tag.MediaStorageSOPInstanceUID, []string{sop}),
		element(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		element(t, tag.SOPClassUID, []string{ctImageStorage}),
		element(t, tag.SOPInstanceUID, []string{sop}),
		element(t, tag.Modality, []string{"CT"}),
		element(t, tag.PatientName, []string{"Doe^John"}),
		element(t, tag.PatientID, []string{"P1"}),
		element(t, tag.StudyInstanceUID, []string{"1.2.3"}),
		element(t, tag.SeriesInstanceUID, []string{"1.2.3.4"}),
		element(t, tag.Rows, []int{256}),
		element(t, tag.Columns, []int{256}),
		element(t, tag.BitsAllocated, []int{16}),
	}}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, dicom.Write(f, ds))
	require.NoError(t, f.Close())
	return path
}

// writePNG writes a 6x4 grayscale gradient at root/rel.
func writePNG(t *testing.T, root, rel string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	img := image.NewGray(image.Rect(0, 0, 6, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 8)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func run(t *testing.T, in, out string, mutate ...func(*Options)) *Report {
	t.Helper()
	opts := Options{InputRoot: in, OutputRoot: out, Logger: zerolog.Nop()}
	for _, m := range mutate {
		m(&opts)
	}
	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	return report
}

func parse(t *testing.T, path string) dicom.Dataset {
	t.Helper()
	ds, err := dicom.ParseFile(path, nil)
	require.NoError(t, err)
	return ds
}

func str(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	el, err := ds.FindElementByTag(tg)
	require.NoError(t, err, "missing %v", tg)
	return strings.TrimSpace(dicom.MustGetStrings(el.Value)[0])
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRun_EndToEnd(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	writeRef(t, in, "b/2.dcm")

	report := run(t, in, out)

	assert.Equal(t, []string{"a/1.dcm"}, listFiles(t, out))
	_, err := os.Stat(filepath.Join(out, "b"))
	assert.True(t, os.IsNotExist(err), "no directory for a group without output")

	require.Len(t, report.Written, 1)
	assert.False(t, report.HasFailures())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, ReasonNoImage, report.Skipped[0].Reason)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, 1, report.Groups[0].Written)
	assert.Equal(t, 0, report.Groups[1].Written)

	ds := parse(t, filepath.Join(out, "a", "1.dcm"))
	assert.Equal(t, "Doe^John", str(t, ds, tag.PatientName))
	assert.Equal(t, "CT", str(t, ds, tag.Modality))
	assert.Equal(t, report.Groups[0].SeriesUID, str(t, ds, tag.SeriesInstanceUID))
	assert.NotEqual(t, "1.2.3.4", str(t, ds, tag.SeriesInstanceUID))
	assert.Equal(t, "7", str(t, ds, tag.CollimatorRightVerticalEdge))
	assert.Equal(t, "5", str(t, ds, tag.CollimatorLowerHorizontalEdge))

	rows, err := ds.FindElementByTag(tag.Rows)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, dicom.MustGetInts(rows.Value), "geometry comes from the image")
}

func TestRun_UnmatchedImagePolicies(t *testing.T) {
	in := t.TempDir()
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	orphan := writePNG(t, in, "a/9.png")

	report := run(t, in, filepath.Join(t.TempDir(), "out"))
	assert.False(t, report.HasFailures(), "unmatched images are not errors by default")
	assert.Contains(t, report.Skipped, SkippedItem{Path: orphan, Reason: ReasonNoReference})
	assert.Len(t, report.Written, 1)

	report = run(t, in, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.Unmatched = match.UnmatchedIgnore })
	assert.Empty(t, report.Skipped)
	assert.False(t, report.HasFailures())

	report = run(t, in, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.Unmatched = match.UnmatchedError })
	require.Len(t, report.Failed, 1)
	assert.Equal(t, converr.KindUnmatched, report.Failed[0].Kind)
	assert.Equal(t, orphan, report.Failed[0].Image)
	assert.Len(t, report.Written, 1, "other pairs still convert")
}

func TestRun_SeriesUIDPerDirectory(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	for _, rel := range []string{"a/1", "a/2", "b/3"} {
		writeRef(t, in, rel+".dcm")
		writePNG(t, in, rel+".png")
	}

	report := run(t, in, out)
	require.Len(t, report.Written, 3)

	a1 := str(t, parse(t, filepath.Join(out, "a", "1.dcm")), tag.SeriesInstanceUID)
	a2 := str(t, parse(t, filepath.Join(out, "a", "2.dcm")), tag.SeriesInstanceUID)
	b3 := str(t, parse(t, filepath.Join(out, "b", "3.dcm")), tag.SeriesInstanceUID)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b3)
	assert.Regexp(t, `^2\.25\.[0-9]+$`, a1)
}

func TestRun_Idempotent(t *testing.T) {
	in := t.TempDir()
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	out := filepath.Join(t.TempDir(), "out")

	dump := func() (map[tag.Tag]string, string) {
		ds := parse(t, filepath.Join(out, "a", "1.dcm"))
		values := map[tag.Tag]string{}
		var series string
		for _, el := range ds.Elements {
			switch el.Tag {
			case tag.SeriesInstanceUID:
				series = el.Value.String()
			case tag.PixelData:
			default:
				values[el.Tag] = el.Value.String()
			}
		}
		return values, series
	}

	run(t, in, out)
	first, firstSeries := dump()
	run(t, in, out)
	second, secondSeries := dump()

	assert.Equal(t, first, second, "tag content is stable across runs")
	assert.NotEqual(t, firstSeries, secondSeries, "series UID is fresh per run")
}

func TestRun_CorruptReferenceFailsOnlyItsPair(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	bad := filepath.Join(in, "a", "1.dcm")
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0755))
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0644))
	writePNG(t, in, "a/1.png")
	writeRef(t, in, "a/2.dcm")
	writePNG(t, in, "a/2.png")

	report := run(t, in, out)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, converr.KindReferenceRead, report.Failed[0].Kind)
	assert.Equal(t, bad, report.Failed[0].Reference)
	assert.Equal(t, []string{"a/2.dcm"}, listFiles(t, out))
}

func TestRun_CorruptImageFailsOnlyItsPair(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	require.NoError(t, os.WriteFile(filepath.Join(in, "a", "1.png"), []byte("not png"), 0644))
	writeRef(t, in, "a/2.dcm")
	writePNG(t, in, "a/2.png")

	report := run(t, in, out)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, converr.KindCodec, report.Failed[0].Kind)
	assert.Len(t, report.Written, 1)
}

func TestRun_ExactStemMatching(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/10.png")
	one := writePNG(t, in, "a/1.png")

	report := run(t, in, out)
	require.Len(t, report.Written, 1)
	assert.Equal(t, one, report.Written[0].Image)
	assert.Contains(t, report.Skipped, SkippedItem{Path: filepath.Join(in, "a", "10.png"), Reason: ReasonNoReference})
}

func TestRun_StemSharedAcrossDirectories(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	paired := writePNG(t, in, "a/1.png")
	stray := writePNG(t, in, "q/1.png")

	report := run(t, in, out)
	require.Len(t, report.Written, 1)
	assert.Equal(t, paired, report.Written[0].Image)
	assert.Equal(t, []SkippedItem{{Path: stray, Reason: ReasonImageNotPaired}}, report.Skipped)
	assert.False(t, report.HasFailures())
}

func TestRun_Workers(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	dirs := []string{"d1", "d2", "d3", "d4", "d5"}
	for _, d := range dirs {
		writeRef(t, in, d+"/x.dcm")
		writePNG(t, in, d+"/x.png")
	}

	var mu sync.Mutex
	var progress []int
	report := run(t, in, out, func(o *Options) {
		o.Workers = 3
		o.ProgressCallback = func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, len(dirs), total)
			progress = append(progress, done)
		}
	})

	require.Len(t, report.Groups, len(dirs))
	for i, d := range dirs {
		assert.Equal(t, filepath.Join(in, d), report.Groups[i].SourceDir, "groups keep directory order")
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	assert.Len(t, listFiles(t, out), len(dirs))
}

func TestRun_DryRun(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")

	report := run(t, in, out, func(o *Options) { o.DryRun = true })
	assert.True(t, report.DryRun)
	require.Len(t, report.Written, 1)
	assert.Equal(t, filepath.Join(out, "a", "1.dcm"), report.Written[0].Output)

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "dry run writes nothing")
}

func TestRun_DICOMDIR(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")

	report := run(t, in, out, func(o *Options) { o.WriteDICOMDIR = true })
	assert.Equal(t, filepath.Join(out, "DICOMDIR"), report.Index)
	assert.FileExists(t, report.Index)
}

func TestRun_OutputInsideInput(t *testing.T) {
	in := t.TempDir()
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	out := filepath.Join(in, "converted")

	run(t, in, out)
	report := run(t, in, out)
	assert.Equal(t, 1, report.References, "outputs are not read back as references")
	assert.Equal(t, []string{"a/1.dcm"}, listFiles(t, out))
}

func TestRun_OutputEqualsInput(t *testing.T) {
	in := t.TempDir()
	ref := writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	before, err := os.ReadFile(ref)
	require.NoError(t, err)

	for _, out := range []string{in, filepath.Join(in, "a", "..")} {
		report, err := Run(context.Background(), Options{InputRoot: in, OutputRoot: out, Logger: zerolog.Nop()})
		require.Error(t, err, out)
		assert.Nil(t, report)
	}

	after, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, before, after, "reference left untouched")
}

func TestRun_EmptyInput(t *testing.T) {
	report := run(t, t.TempDir(), filepath.Join(t.TempDir(), "out"))
	assert.Empty(t, report.Written)
	assert.Empty(t, report.Groups)
	assert.False(t, report.HasFailures())
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), Options{Logger: zerolog.Nop()})
	assert.Error(t, err, "roots required")

	_, err = Run(context.Background(), Options{
		InputRoot:  filepath.Join(t.TempDir(), "missing"),
		OutputRoot: t.TempDir(),
		Logger:     zerolog.Nop(),
	})
	assert.Error(t, err, "missing input root")

	_, err = Run(context.Background(), Options{
		InputRoot:    t.TempDir(),
		OutputRoot:   t.TempDir(),
		ImagePattern: "[",
		Logger:       zerolog.Nop(),
	})
	assert.Error(t, err, "bad pattern")
}

func TestRun_Cancelled(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Run(ctx, Options{InputRoot: in, OutputRoot: out, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Written)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReport_RenderAndJSON(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeRef(t, in, "a/1.dcm")
	writePNG(t, in, "a/1.png")
	writePNG(t, in, "a/9.png")

	report := run(t, in, out)

	rendered := report.Render()
	assert.Contains(t, rendered, "Conversion Summary")
	assert.Contains(t, rendered, "a/9.png")
	assert.Contains(t, rendered, ReasonNoReference)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteJSON(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, report.Written, back.Written)
	assert.Equal(t, report.Skipped, back.Skipped)
	assert.Equal(t, report.Groups, back.Groups)
}
