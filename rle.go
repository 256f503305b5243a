package maskgt

// Polygon and RLE segmentation decoding.

import (
	"fmt"
	"math"
	"sort"
)

// MaskDecoder converts one annotation's segmentation into a dense binary mask
// for an image with the given dimensions.
type MaskDecoder interface {
	ToMask(ann Annotation, height, width int) (Mask, error)
}

// SegmentationDecoder is the built-in MaskDecoder for COCO polygon and
// uncompressed RLE segmentations.
type SegmentationDecoder struct{}

// ToMask decodes ann.Segmentation. RLE masks take their dimensions from the
// RLE header; polygon masks are rasterized at the given image dimensions.
func (SegmentationDecoder) ToMask(ann Annotation, height, width int) (Mask, error) {
	s := ann.Segmentation
	if len(s.RLE.Counts) > 0 {
		return rleToMask(s.RLE)
	}
	if len(s.Polygons) > 0 {
		return polygonsToMask(s.Polygons, height, width)
	}
	return Mask{}, fmt.Errorf("annotation %d has no segmentation", ann.ID)
}

// rleToMask expands a COCO uncompressed RLE. Counts alternate between
// background and foreground runs, laid out column-major.
func rleToMask(rle RLE) (Mask, error) {
	height, width := rle.Size[0], rle.Size[1]
	if height <= 0 || width <= 0 {
		return Mask{}, fmt.Errorf("invalid RLE size %dx%d", height, width)
	}

	m := NewMask(height, width)
	pos := 0
	val := uint8(0)
	for _, run := range rle.Counts {
		if run < 0 || pos+run > height*width {
			return Mask{}, fmt.Errorf("RLE runs exceed the %dx%d mask", height, width)
		}
		if val == 1 {
			for i := pos; i < pos+run; i++ {
				y := i % height
				x := i / height
				m.Pix[y*width+x] = 1
			}
		}
		pos += run
		val = 1 - val
	}

	return m, nil
}

// polygonsToMask rasterizes the polygon parts and merges them into a single
// mask of the given dimensions.
func polygonsToMask(polygons [][]float64, height, width int) (Mask, error) {
	m := NewMask(height, width)
	for _, poly := range polygons {
		if len(poly) < 6 || len(poly)%2 != 0 {
			return Mask{}, fmt.Errorf("invalid polygon with %d coordinates", len(poly))
		}
		fillPolygon(m, poly)
	}
	return m, nil
}

// fillPolygon sets the pixels whose centers lie inside the polygon, using
// even-odd crossing counts per scanline.
func fillPolygon(m Mask, poly []float64) {
	n := len(poly) / 2
	xs := make([]float64, 0, n)

	for y := 0; y < m.Height; y++ {
		cy := float64(y) + 0.5

		xs = xs[:0]
		j := n - 1
		for i := 0; i < n; i++ {
			x1, y1 := poly[2*i], poly[2*i+1]
			x2, y2 := poly[2*j], poly[2*j+1]
			if (y1 <= cy && cy < y2) || (y2 <= cy && cy < y1) {
				xs = append(xs, x1+(cy-y1)*(x2-x1)/(y2-y1))
			}
			j = i
		}
		sort.Float64s(xs)

		for k := 0; k+1 < len(xs); k += 2 {
			x0 := clip(int(math.Ceil(xs[k]-0.5)), 0, m.Width)
			x1 := clip(int(math.Ceil(xs[k+1]-0.5)), 0, m.Width)
			row := m.Pix[y*m.Width : (y+1)*m.Width]
			for x := x0; x < x1; x++ {
				row[x] = 1
			}
		}
	}
}
