package maskgt

import (
	"image"

	"github.com/disintegration/imaging"
)

// loadImage reads and decodes the image at path into NRGBA pixels.
func loadImage(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}
