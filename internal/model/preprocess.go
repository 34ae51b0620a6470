package model

import (
	"image"
	"strings"

	"github.com/nfnt/resize"
)

const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// DefaultImageSize matches the 224x224 input of the exported sign model.
const DefaultImageSize = 224

// Interpolation maps a config name onto a resize function. Unknown names get
// nearest neighbour, which is what the browser build used.
func Interpolation(name string) resize.InterpolationFunction {
	switch strings.ToLower(name) {
	case "bilinear":
		return resize.Bilinear
	case "bicubic":
		return resize.Bicubic
	case "lanczos", "lanczos3":
		return resize.Lanczos3
	default:
		return resize.NearestNeighbor
	}
}

// Preprocess converts an image to the flat float tensor expected by the model:
// size x size, three channels scaled to [0,1].
func Preprocess(img image.Image, size int, layout string, interp resize.InterpolationFunction) []float32 {
	if size <= 0 {
		size = DefaultImageSize
	}
	resized := resize.Resize(uint(size), uint(size), img, interp)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)
	nchw := strings.EqualFold(layout, LayoutNCHW)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			rNorm := float32(r) / 65535.0
			gNorm := float32(g) / 65535.0
			bNorm := float32(b) / 65535.0

			idx := y*width + x
			if nchw {
				data[idx] = rNorm
				data[plane+idx] = gNorm
				data[2*plane+idx] = bNorm
			} else {
				data[3*idx] = rNorm
				data[3*idx+1] = gNorm
				data[3*idx+2] = bNorm
			}
		}
	}
	return data
}
