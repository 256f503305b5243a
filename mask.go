package maskgt

// Binary mask construction.

import "math"

// Mask is a dense binary pixel mask with row-major storage. Pixel values are
// in {0, 1}.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask returns an all-zero mask with the given dimensions.
func NewMask(height, width int) Mask {
	return Mask{Width: width, Height: height, Pix: make([]uint8, height*width)}
}

// At returns the pixel value at (x, y).
func (m Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Sum returns the number of set pixels.
func (m Mask) Sum() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// MaskFromBbox rasterizes the bounding box (x, y, w, h), given in float pixel
// coordinates, into a binary mask with the given image dimensions.
//
// The rectangle edges are rounded to the nearest pixel coordinate and clipped
// to the image independently. A box that collapses to zero area after
// clipping, including one entirely outside the image, yields an all-zero mask.
func MaskFromBbox(bbox [4]float64, height, width int) Mask {
	x0 := clip(int(math.Round(bbox[0])), 0, width)
	y0 := clip(int(math.Round(bbox[1])), 0, height)
	x1 := clip(int(math.Round(bbox[0]+bbox[2])), 0, width)
	y1 := clip(int(math.Round(bbox[1]+bbox[3])), 0, height)

	m := NewMask(height, width)
	for y := y0; y < y1; y++ {
		row := m.Pix[y*width : (y+1)*width]
		for x := x0; x < x1; x++ {
			row[x] = 1
		}
	}

	return m
}

// MaskFromSegmentID extracts the binary mask of a single segment by pixel-wise
// equality against the segment-id map.
func MaskFromSegmentID(idMap *SegmentIDMap, segmentID int64) Mask {
	m := NewMask(idMap.Height, idMap.Width)
	for i, id := range idMap.IDs {
		if id == segmentID {
			m.Pix[i] = 1
		}
	}
	return m
}

func clip(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
