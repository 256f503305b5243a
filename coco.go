package maskgt

// COCO detection/instance annotation container functionality.

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// RLE is a COCO uncompressed run-length encoding. Counts alternate between
// background and foreground runs in column-major order; Size is (height,
// width).
type RLE struct {
	Counts []int  `json:"counts"`
	Size   [2]int `json:"size"`
}

// Segmentation is the polymorphic COCO segmentation field: either a list of
// polygons (each a flat [x1, y1, x2, y2, ...] ring) or an RLE object.
type Segmentation struct {
	Polygons [][]float64
	RLE      RLE
}

func (s *Segmentation) MarshalJSON() ([]byte, error) {
	if s.Polygons != nil {
		return json.Marshal(s.Polygons)
	}
	return json.Marshal(s.RLE)
}

func (s *Segmentation) UnmarshalJSON(data []byte) error {
	if strings.Contains(string(data), "{") {
		return json.Unmarshal(data, &s.RLE)
	}
	return json.Unmarshal(data, &s.Polygons)
}

// Annotation is a single object annotation of a detection/instance container.
// The bounding box is (x, y, w, h) in float pixel coordinates.
type Annotation struct {
	ID           int          `json:"id"`
	ImageID      int          `json:"image_id"`
	CategoryID   int          `json:"category_id"`
	Bbox         [4]float64   `json:"bbox"`
	Segmentation Segmentation `json:"segmentation"`
	IsCrowd      int          `json:"iscrowd"`
}

type cocoJSON struct {
	Categories  []Category   `json:"categories"`
	Images      []ImageRef   `json:"images"`
	Annotations []Annotation `json:"annotations"`
}

// COCO is a parsed detection/instance annotation container with per-image
// lookup structures. It is read-only after FromCOCO and may be shared across
// goroutines.
type COCO struct {
	Categories []Category

	images  map[int]ImageRef
	byImage map[int][]Annotation
}

// FromCOCO reads and parses a COCO detection/instance annotation container
// from the file at path.
func FromCOCO(path string) (*COCO, error) {
	enc, err := readFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read annotations %q", path)
	}

	var data cocoJSON
	if err := json.Unmarshal(enc, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to parse annotations from %q", path)
	}

	c := &COCO{
		Categories: data.Categories,
		images:     make(map[int]ImageRef, len(data.Images)),
		byImage:    make(map[int][]Annotation),
	}
	for _, img := range data.Images {
		c.images[img.ID] = img
	}
	// Grouping preserves the container's annotation order per image.
	for _, ann := range data.Annotations {
		c.byImage[ann.ImageID] = append(c.byImage[ann.ImageID], ann)
	}

	return c, nil
}

// Image returns the metadata for the given image id.
func (c *COCO) Image(imageID int) (ImageRef, error) {
	img, ok := c.images[imageID]
	if !ok {
		return ImageRef{}, fmt.Errorf("image %d not found in the annotation container", imageID)
	}
	return img, nil
}

// AnnotationsForImage returns the annotations of the given image in container
// order. Images without annotations yield an empty list.
func (c *COCO) AnnotationsForImage(imageID int) []Annotation {
	return c.byImage[imageID]
}

// ImageIDs returns all image ids of the container, in ascending order.
func (c *COCO) ImageIDs() []int {
	ids := make([]int, 0, len(c.images))
	for id := range c.images {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
