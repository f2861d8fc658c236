// Package vision adapts OpenCV (gocv) to the eye detector and edge detector
// interfaces. It needs the native OpenCV libraries at build and run time.
package vision

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/liveness"
)

const eyeCascadeFile = "haarcascade_eye.xml"

var ErrClassifierClosed = errors.New("eye classifier is closed")

// cascadeSearchPaths lists the usual install locations of the OpenCV haar cascades.
var cascadeSearchPaths = []string{
	eyeCascadeFile,
	"/usr/local/share/opencv4/haarcascades/" + eyeCascadeFile,
	"/usr/share/opencv4/haarcascades/" + eyeCascadeFile,
	"/opt/homebrew/share/opencv4/haarcascades/" + eyeCascadeFile,
}

// EyeCascade detects eyes with the OpenCV haar cascade. A CascadeClassifier
// must not be used from several goroutines at once, so calls are serialized.
type EyeCascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

// NewEyeCascade loads haarcascade_eye.xml from path, which may name the file
// or the directory holding it. The usual install locations are tried after it.
func NewEyeCascade(path string) (*EyeCascade, error) {
	candidates := cascadeSearchPaths
	if path != "" {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, eyeCascadeFile)
		}
		candidates = append([]string{path}, cascadeSearchPaths...)
	}

	classifier := gocv.NewCascadeClassifier()
	for _, p := range candidates {
		if classifier.Load(p) {
			return &EyeCascade{classifier: classifier}, nil
		}
	}
	classifier.Close()
	return nil, fmt.Errorf("failed to load eye cascade classifier from %v", candidates)
}

// DetectEyes implements liveness.EyeDetector.
func (e *EyeCascade) DetectEyes(gray *image.Gray, p liveness.CascadeParams) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	defer mat.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClassifierClosed
	}

	return e.classifier.DetectMultiScaleWithParams(
		mat,
		p.ScaleFactor,
		p.MinNeighbors,
		0,
		image.Pt(p.MinSize, p.MinSize),
		image.Pt(0, 0), // no upper bound
	), nil
}

// Close releases the classifier.
func (e *EyeCascade) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.classifier.Close()
}

// CannyEdges renders an edge map: grayscale, 5x5 Gaussian blur, then Canny
// with hysteresis thresholds 30 and 70. It keeps no state and is safe for
// concurrent use.
type CannyEdges struct {
	Low  float32
	High float32
}

// NewCannyEdges returns the default edge detector.
func NewCannyEdges() *CannyEdges {
	return &CannyEdges{Low: 30, High: 70}
}

// Edges implements sketch.EdgeDetector.
func (c *CannyEdges) Edges(frame image.Image) (*image.Gray, error) {
	src, err := gocv.ImageGrayToMatGray(imaging.ToGray(frame))
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	defer src.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, c.Low, c.High)

	img, err := edges.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting edge map: %w", err)
	}
	return imaging.ToGray(img), nil
}
