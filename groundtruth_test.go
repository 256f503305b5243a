package maskgt

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory AnnotationSource for a single image.
type fakeSource struct {
	image ImageRef
	anns  []Annotation
}

func (s fakeSource) Image(imageID int) (ImageRef, error) {
	if imageID != s.image.ID {
		return ImageRef{}, fmt.Errorf("image %d not found", imageID)
	}
	return s.image, nil
}

func (s fakeSource) AnnotationsForImage(imageID int) []Annotation {
	if imageID != s.image.ID {
		return nil
	}
	return s.anns
}

// fakeDecoder returns pre-built masks keyed by annotation id.
type fakeDecoder struct {
	masks map[int]Mask
}

func (d fakeDecoder) ToMask(ann Annotation, height, width int) (Mask, error) {
	m, ok := d.masks[ann.ID]
	if !ok {
		return Mask{}, fmt.Errorf("no mask for annotation %d", ann.ID)
	}
	return m, nil
}

func TestDetectionGroundTruth(t *testing.T) {
	source := fakeSource{
		image: ImageRef{ID: 1, Width: 8, Height: 8},
		anns: []Annotation{
			{ID: 10, ImageID: 1, CategoryID: 7, Bbox: [4]float64{-5, 2, 10, 3}},
			{ID: 11, ImageID: 1, CategoryID: 2, Bbox: [4]float64{1, 1, 3, 2}},
		},
	}
	classIndex := BuildClassIndex([]Category{{ID: 2}, {ID: 7}})
	builder := DetectionGroundTruth{Source: source, ClassIndex: classIndex}

	records, err := builder.GetGroundTruth(1)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Output order follows the source's annotation order.
	assert.Equal(t, 1, records[0].ClassID)
	assert.EqualValues(t, 0, records[0].InstanceID)
	assert.Equal(t, 15, records[0].Mask.Sum())
	assert.Equal(t, 8, records[0].Mask.Height)
	assert.Equal(t, 8, records[0].Mask.Width)

	assert.Equal(t, 0, records[1].ClassID)
	assert.Equal(t, 6, records[1].Mask.Sum())
}

func TestDetectionGroundTruth_MissingImage(t *testing.T) {
	builder := DetectionGroundTruth{
		Source:     fakeSource{image: ImageRef{ID: 1, Width: 8, Height: 8}},
		ClassIndex: map[int]int{},
	}

	_, err := builder.GetGroundTruth(999)
	require.Error(t, err)
}

func TestDetectionGroundTruth_UnknownCategory(t *testing.T) {
	source := fakeSource{
		image: ImageRef{ID: 1, Width: 8, Height: 8},
		anns:  []Annotation{{ID: 10, ImageID: 1, CategoryID: 50}},
	}
	builder := DetectionGroundTruth{Source: source, ClassIndex: map[int]int{2: 0}}

	_, err := builder.GetGroundTruth(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category 50")
}

func TestInstanceGroundTruth(t *testing.T) {
	matching := NewMask(8, 8)
	matching.Pix[3] = 1
	matching.Pix[11] = 1

	source := fakeSource{
		image: ImageRef{ID: 1, Width: 8, Height: 8},
		anns: []Annotation{
			{ID: 10, ImageID: 1, CategoryID: 7},
			{ID: 11, ImageID: 1, CategoryID: 2},
		},
	}
	decoder := fakeDecoder{masks: map[int]Mask{
		10: matching,
		11: NewMask(4, 4), // wrong dimensions, must be dropped
	}}
	classIndex := BuildClassIndex([]Category{{ID: 2}, {ID: 7}})
	builder := InstanceGroundTruth{Source: source, Decoder: decoder, ClassIndex: classIndex}

	records, dropped, err := builder.GetGroundTruth(1)
	require.NoError(t, err)

	// The mismatched annotation is dropped, shrinking the list by exactly one.
	assert.Equal(t, 1, dropped)
	require.Len(t, records, 1)

	assert.EqualValues(t, 10, records[0].InstanceID)
	assert.Equal(t, 1, records[0].ClassID)
	// A matching decoded mask is passed through unchanged.
	assert.Equal(t, matching.Pix, records[0].Mask.Pix)
}

func TestInstanceGroundTruth_DecoderError(t *testing.T) {
	source := fakeSource{
		image: ImageRef{ID: 1, Width: 8, Height: 8},
		anns:  []Annotation{{ID: 10, ImageID: 1, CategoryID: 7}},
	}
	builder := InstanceGroundTruth{
		Source:     source,
		Decoder:    fakeDecoder{masks: map[int]Mask{}},
		ClassIndex: map[int]int{7: 0},
	}

	_, _, err := builder.GetGroundTruth(1)
	require.Error(t, err)
}

// writeSegmentPNG encodes the 4x4 two-segment test image to dir/name.
func writeSegmentPNG(t *testing.T, dir, name string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, segmentTestImage()))
}

func TestPanopticGroundTruth(t *testing.T) {
	maskDir := t.TempDir()
	writeSegmentPNG(t, maskDir, "000000000042.png")

	data := &PanopticAnnotations{
		Categories: []Category{{ID: 5, Name: "sky"}, {ID: 18, Name: "dog"}},
		Images:     []ImageRef{{ID: 42, Width: 4, Height: 4}},
		Annotations: []PanopticAnnotation{{
			ImageID:  42,
			FileName: "000000000042.png",
			Segments: []PanopticSegment{{ID: 1000, CategoryID: 5}, {ID: 2000, CategoryID: 18}},
		}},
	}
	builder := PanopticGroundTruth{
		Index:      data.Index(),
		ClassIndex: BuildClassIndex(data.Categories),
		MaskDir:    maskDir,
	}

	records, dims, err := builder.GetGroundTruth(42)
	require.NoError(t, err)
	assert.Equal(t, [2]int{4, 4}, dims)
	require.Len(t, records, 2)

	top, bottom := records[0], records[1]
	assert.EqualValues(t, 1000, top.InstanceID)
	assert.Equal(t, 0, top.ClassID)
	assert.EqualValues(t, 2000, bottom.InstanceID)
	assert.Equal(t, 1, bottom.ClassID)

	assert.Equal(t, 8, top.Mask.Sum())
	assert.Equal(t, 8, bottom.Mask.Sum())

	// The segment masks are mutually exclusive and together cover the image.
	for i := range top.Mask.Pix {
		assert.EqualValues(t, 1, top.Mask.Pix[i]+bottom.Mask.Pix[i], "pixel %d", i)
	}
}

func TestPanopticGroundTruth_MissingImage(t *testing.T) {
	builder := PanopticGroundTruth{
		Index:      (&PanopticAnnotations{}).Index(),
		ClassIndex: map[int]int{},
		MaskDir:    t.TempDir(),
	}

	_, _, err := builder.GetGroundTruth(42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42")
}

func TestPanopticGroundTruth_MissingSegmentImage(t *testing.T) {
	data := &PanopticAnnotations{
		Images: []ImageRef{{ID: 42, Width: 4, Height: 4}},
		Annotations: []PanopticAnnotation{
			{ImageID: 42, FileName: "absent.png"},
		},
	}
	builder := PanopticGroundTruth{
		Index:      data.Index(),
		ClassIndex: map[int]int{},
		MaskDir:    t.TempDir(),
	}

	_, _, err := builder.GetGroundTruth(42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.png")
}

func TestForEachImage(t *testing.T) {
	ids := make([]int, 100)
	for i := range ids {
		ids[i] = i
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	err := ForEachImage(ids, 4, func(imageID int) error {
		mu.Lock()
		seen[imageID] = true
		mu.Unlock()
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, seen, 100)
}

func TestForEachImage_PropagatesError(t *testing.T) {
	err := ForEachImage([]int{1, 2, 3, 4}, 2, func(imageID int) error {
		if imageID == 3 {
			return fmt.Errorf("image %d failed", imageID)
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestForEachImage_NoIDs(t *testing.T) {
	require.NoError(t, ForEachImage(nil, 4, func(int) error { return nil }))
}
