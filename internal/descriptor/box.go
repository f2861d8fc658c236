package descriptor

import (
	"fmt"
	"image"
	"math"
)

// Box is a face bounding box in pixel coordinates, serialized the way the
// capture page expects it.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromRect converts an image rectangle.
func BoxFromRect(r image.Rectangle) Box {
	return Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// BoxFromCorners converts a pixel bbox [x1, y1, x2, y2] as returned by the embedding service.
func BoxFromCorners(bbox []float64) (Box, error) {
	if len(bbox) != 4 {
		return Box{}, fmt.Errorf("bbox must have 4 coordinates, got %d", len(bbox))
	}
	return Box{
		Left:   int(math.Round(bbox[0])),
		Top:    int(math.Round(bbox[1])),
		Right:  int(math.Round(bbox[2])),
		Bottom: int(math.Round(bbox[3])),
	}, nil
}

// Rect returns the box as an image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}
