package maskgt

// COCO panoptic specific functionality.

import (
	"encoding/json"
	"fmt"
	"image"
	"sort"

	"github.com/pkg/errors"
)

// PanopticSegment describes one segment of an image's panoptic segmentation.
// The ID is unique within that image's segmentation, not globally.
type PanopticSegment struct {
	ID         int64 `json:"id"`
	CategoryID int   `json:"category_id"`
}

// PanopticAnnotation is the per-image entry of a panoptic annotation
// container. FileName names the RGB-encoded segmentation image.
type PanopticAnnotation struct {
	ImageID  int               `json:"image_id"`
	FileName string            `json:"file_name"`
	Segments []PanopticSegment `json:"segments_info"`
}

// ImageRef is the read-only image metadata from an annotation container.
type ImageRef struct {
	ID     int `json:"id"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PanopticAnnotations is a parsed panoptic annotation container.
type PanopticAnnotations struct {
	Categories  []Category           `json:"categories"`
	Images      []ImageRef           `json:"images"`
	Annotations []PanopticAnnotation `json:"annotations"`
}

// FromPanopticJSON reads and parses a panoptic annotation container from the
// file at path.
func FromPanopticJSON(path string) (*PanopticAnnotations, error) {
	enc, err := readFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read panoptic annotations %q", path)
	}

	var data PanopticAnnotations
	if err := json.Unmarshal(enc, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to parse panoptic annotations from %q", path)
	}

	return &data, nil
}

// AnnotationIndex provides image-id lookups over a panoptic annotation
// container. It is built once per container and read-only afterwards, so it
// may be shared across goroutines.
type AnnotationIndex struct {
	images      map[int]ImageRef
	annotations map[int]PanopticAnnotation
}

// Index builds the image-id lookup structures over the container. The
// container is expected to hold exactly one annotation entry per image.
func (p *PanopticAnnotations) Index() *AnnotationIndex {
	idx := &AnnotationIndex{
		images:      make(map[int]ImageRef, len(p.Images)),
		annotations: make(map[int]PanopticAnnotation, len(p.Annotations)),
	}
	for _, img := range p.Images {
		idx.images[img.ID] = img
	}
	for _, ann := range p.Annotations {
		idx.annotations[ann.ImageID] = ann
	}
	return idx
}

// Image returns the metadata for the given image id.
func (idx *AnnotationIndex) Image(imageID int) (ImageRef, error) {
	img, ok := idx.images[imageID]
	if !ok {
		return ImageRef{}, fmt.Errorf("image %d not found in the panoptic index", imageID)
	}
	return img, nil
}

// Annotation returns the panoptic annotation for the given image id.
func (idx *AnnotationIndex) Annotation(imageID int) (PanopticAnnotation, error) {
	ann, ok := idx.annotations[imageID]
	if !ok {
		return PanopticAnnotation{}, fmt.Errorf("annotation for image %d not found in the panoptic index", imageID)
	}
	return ann, nil
}

// ImageIDs returns all image ids in the index, in ascending order.
func (idx *AnnotationIndex) ImageIDs() []int {
	ids := make([]int, 0, len(idx.images))
	for id := range idx.images {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// EncodeSegmentID converts a segment id to its RGB encoding, the inverse of
// DecodeSegmentColor.
func EncodeSegmentID(id int64) (r, g, b uint8) {
	return uint8(id % 256), uint8(id / 256 % 256), uint8(id / 65536 % 256)
}

// DecodeSegmentColor converts an RGB triplet to a segment id:
//
//	id = R + 256*G + 256*256*B
//
// The arithmetic is done in int64; ids go up to 256^3-1 and overflow a narrow
// intermediate type.
func DecodeSegmentColor(r, g, b uint8) int64 {
	return int64(r) + 256*int64(g) + 65536*int64(b)
}

// SegmentIDMap assigns a segment id to every pixel of an image, row-major.
type SegmentIDMap struct {
	Width  int
	Height int
	IDs    []int64
}

// At returns the segment id at (x, y).
func (m *SegmentIDMap) At(x, y int) int64 {
	return m.IDs[y*m.Width+x]
}

// DecodeSegmentImage converts an RGB-encoded panoptic segmentation image into
// a segment-id map in a single pass over the pixels.
func DecodeSegmentImage(img image.Image) *SegmentIDMap {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	m := &SegmentIDMap{Width: w, Height: h, IDs: make([]int64, w*h)}

	if nrgba, ok := img.(*image.NRGBA); ok {
		// Fast path for the decoder output of loadImage.
		for y := 0; y < h; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*w]
			for x := 0; x < w; x++ {
				m.IDs[y*w+x] = DecodeSegmentColor(row[4*x], row[4*x+1], row[4*x+2])
			}
		}
		return m
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			m.IDs[y*w+x] = DecodeSegmentColor(uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}
	return m
}

// LoadSegmentImage reads the RGB-encoded segmentation image at path and
// decodes it into a segment-id map.
func LoadSegmentImage(path string) (*SegmentIDMap, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read the segmentation image %q", path)
	}
	return DecodeSegmentImage(img), nil
}
