package descriptor

import (
	"image"
	"testing"
)

func TestBoxFromCorners(t *testing.T) {
	box, err := BoxFromCorners([]float64{10.2, 20.7, 30.5, 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Box{Left: 10, Top: 21, Right: 31, Bottom: 40}
	if box != want {
		t.Errorf("got %+v, want %+v", box, want)
	}

	if _, err := BoxFromCorners([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for short bbox")
	}
}

func TestBoxRectRoundTrip(t *testing.T) {
	r := image.Rect(5, 6, 50, 60)
	if got := BoxFromRect(r).Rect(); got != r {
		t.Errorf("round trip changed rectangle: %v != %v", got, r)
	}
}
