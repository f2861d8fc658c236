package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/descriptor"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/registry"
	"github.com/kozaktomas/facegate/internal/sketch"
)

// Test frames are solid colours. The fake extractor derives the "person" from
// the red channel (bands of 40), a small descriptor jitter from green, and
// reports a second face when blue is high. Black frames have no face.
const (
	personAlice = 40
	personBob   = 80
	personCarol = 120
)

func frame(t *testing.T, red, green, blue uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: red, G: green, B: blue, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fakeExtractor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) ([]descriptor.Face, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	person := (int(r>>8) + 20) / 40
	if person == 0 {
		return nil, nil
	}
	face := descriptor.Face{
		Box:        descriptor.Box{Top: 10, Right: 50, Bottom: 50, Left: 10},
		Descriptor: []float32{float32(person), float32(g>>8) / 2550, 0},
	}
	faces := []descriptor.Face{face}
	if b>>8 > 128 {
		faces = append(faces, descriptor.Face{
			Box:        descriptor.Box{Top: 0, Right: 5, Bottom: 5, Left: 0},
			Descriptor: []float32{float32(person) + 10, 0, 0},
		})
	}
	return faces, nil
}

type fakeGate struct {
	live  bool
	err   error
	calls atomic.Int32
}

func (f *fakeGate) IsLive(frame image.Image) (bool, error) {
	f.calls.Add(1)
	return f.live, f.err
}

type fakeSketcher struct {
	err   error
	calls atomic.Int32
}

func (f *fakeSketcher) Generate(ctx context.Context, frame image.Image) (*sketch.Artifact, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &sketch.Artifact{Name: "sketch_20260101000000_abcdef01.jpg", URL: "/static/sketches/sketch_20260101000000_abcdef01.jpg", Size: 512}, nil
}

type fixture struct {
	svc       *Service
	store     *mock.MockIdentityStore
	extractor *fakeExtractor
	gate      *fakeGate
	sketcher  *fakeSketcher
	log       *mock.MockRecognitionLog
}

func newFixture(opts ...Option) *fixture {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:     mock.NewMockIdentityStore(),
		extractor: &fakeExtractor{},
		gate:      &fakeGate{live: true},
		sketcher:  &fakeSketcher{},
		log:       mock.NewMockRecognitionLog(),
	}
	reg := registry.New(f.store, f.extractor, registry.WithLogger(quiet))
	opts = append([]Option{WithLogger(quiet), WithRecognitionLog(f.log)}, opts...)
	f.svc = New(reg, facematch.NewMatcher(0.6, facematch.PolicyFirstMatch), f.gate, f.extractor, f.sketcher, opts...)
	return f
}

func TestScenario_EnrollAndRecognize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 0, 0)})
	if err != nil {
		t.Fatalf("enroll alice: %v", err)
	}
	if res.Name != "alice" || res.Generation != 1 {
		t.Errorf("unexpected enroll result: %+v", res)
	}

	_, err = f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 60, 0)})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("re-enroll alice: expected ErrDuplicateIdentity, got %v", err)
	}

	if _, err := f.svc.Enroll(ctx, EnrollRequest{Name: "bob", Image: frame(t, personBob, 0, 0)}); err != nil {
		t.Fatalf("enroll bob: %v", err)
	}

	result, err := f.svc.Recognize(ctx, frame(t, personAlice, 30, 0))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(result.Faces) != 1 || result.Faces[0].Name != "alice" {
		t.Fatalf("expected exactly alice, got %+v", result.Faces)
	}
	if result.Faces[0].Location != (descriptor.Box{Top: 10, Right: 50, Bottom: 50, Left: 10}) {
		t.Errorf("unexpected location %+v", result.Faces[0].Location)
	}
	if result.SketchURL == "" || result.SketchError != "" {
		t.Errorf("expected a sketch, got url=%q err=%q", result.SketchURL, result.SketchError)
	}
}

func TestEnroll_DuplicateKeepsRegistrySize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	before := f.svc.Registry().Len()
	saves := f.store.SaveCalls

	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alicia", Image: frame(t, personAlice, 20, 0)})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if f.svc.Registry().Len() != before {
		t.Errorf("registry size changed from %d to %d", before, f.svc.Registry().Len())
	}
	if f.store.SaveCalls != saves {
		t.Error("duplicate must not reach the store")
	}
	if Message(err) != "Face already registered" {
		t.Errorf("unexpected message %q", Message(err))
	}
}

func TestEnroll_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T) EnrollRequest
		wantErr error
		kind    string
		message string
	}{
		{
			name:    "missing name",
			req:     func(t *testing.T) EnrollRequest { return EnrollRequest{Name: "   ", Image: frame(t, personAlice, 0, 0)} },
			wantErr: ErrMissingName,
			kind:    KindMissingName,
			message: "Name is required",
		},
		{
			name:    "no face",
			req:     func(t *testing.T) EnrollRequest { return EnrollRequest{Name: "ghost", Image: frame(t, 0, 0, 0)} },
			wantErr: ErrNoFaceDetected,
			kind:    KindNoFaceDetected,
			message: "No face detected in the uploaded image",
		},
		{
			name:    "invalid image",
			req:     func(t *testing.T) EnrollRequest { return EnrollRequest{Name: "alice", Image: []byte("garbage")} },
			wantErr: imaging.ErrInvalidImage,
			kind:    KindInvalidImage,
			message: "Invalid image data",
		},
		{
			name:    "name sanitizes to nothing",
			req:     func(t *testing.T) EnrollRequest { return EnrollRequest{Name: "***", Image: frame(t, personAlice, 0, 0)} },
			wantErr: registry.ErrInvalidName,
			kind:    KindInvalidName,
			message: "Invalid name",
		},
		{
			name:    "reserved name",
			req:     func(t *testing.T) EnrollRequest { return EnrollRequest{Name: "unknown", Image: frame(t, personAlice, 0, 0)} },
			wantErr: registry.ErrInvalidName,
			kind:    KindInvalidName,
			message: "Invalid name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Enroll(context.Background(), tt.req(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := ErrorKind(err); got != tt.kind {
				t.Errorf("ErrorKind() = %q, want %q", got, tt.kind)
			}
			if got := Message(err); got != tt.message {
				t.Errorf("Message() = %q, want %q", got, tt.message)
			}
			if !IsClientError(err) {
				t.Error("expected a client error")
			}
			if f.svc.Registry().Len() != 0 || f.store.SaveCalls != 0 {
				t.Error("rejected enrollment must not persist anything")
			}
		})
	}
}

func TestEnroll_NameTaken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personBob, 0, 0)})
	if !errors.Is(err, database.ErrNameTaken) || ErrorKind(err) != KindNameTaken {
		t.Errorf("expected name_taken, got %v", err)
	}
	if f.svc.Registry().Len() != 1 {
		t.Errorf("expected 1 identity, got %d", f.svc.Registry().Len())
	}
}

func TestEnroll_CancelledAfterSaveStillReloads(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.AfterSave = func(string) { cancel() }

	res, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 0, 0)})
	if err != nil {
		t.Fatalf("expected enrollment to complete, got %v (kind %s)", err, ErrorKind(err))
	}
	if res.Name != "alice" || f.svc.Registry().Len() != 1 {
		t.Errorf("expected alice in the snapshot, got %+v with %d identities", res, f.svc.Registry().Len())
	}

	result, err := f.svc.Recognize(context.Background(), frame(t, personAlice, 30, 0))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(result.Faces) != 1 || result.Faces[0].Name != "alice" {
		t.Errorf("expected alice, got %+v", result.Faces)
	}
}

func TestEnroll_CancelledBeforeSave(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Name: "alice", Image: frame(t, personAlice, 0, 0)})
	if err == nil {
		t.Fatal("expected an error for a cancelled request")
	}
	if ErrorKind(err) == KindBootstrapFailure {
		t.Errorf("cancellation must not be reported as a bootstrap failure: %v", err)
	}
	if f.store.SaveCalls != 0 {
		t.Error("a cancelled enrollment must not reach the store")
	}
}

func TestEnroll_MultipleFaces(t *testing.T) {
	t.Run("first face by default", func(t *testing.T) {
		f := newFixture()
		res, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: "carol", Image: frame(t, personCarol, 0, 255)})
		if err != nil {
			t.Fatalf("Enroll failed: %v", err)
		}
		if res.Faces != 2 {
			t.Errorf("expected 2 faces reported, got %d", res.Faces)
		}
		got := f.svc.Registry().All().Identities()[0].Descriptor
		if got[0] != 3 {
			t.Errorf("expected first face descriptor, got %v", got)
		}
	})

	t.Run("rejected when configured", func(t *testing.T) {
		f := newFixture(WithRejectMultipleFaces(true))
		_, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: "carol", Image: frame(t, personCarol, 0, 255)})
		if !errors.Is(err, ErrMultipleFaces) || ErrorKind(err) != KindMultipleFaces {
			t.Errorf("expected multiple_faces, got %v", err)
		}
		if f.store.SaveCalls != 0 {
			t.Error("nothing should be persisted")
		}
	})
}

func TestEnroll_ConcurrentSamePerson(t *testing.T) {
	f := newFixture()
	names := []string{"alice", "alice2", "alice3", "alice4", "alice5", "alice6"}

	images := make([][]byte, len(names))
	for i := range names {
		images[i] = frame(t, personAlice, uint8(i*10), 0)
	}

	var (
		wg         sync.WaitGroup
		successes  atomic.Int32
		duplicates atomic.Int32
	)
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Enroll(context.Background(), EnrollRequest{Name: name, Image: images[i]})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDuplicateIdentity):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error for %s: %v", name, err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 || duplicates.Load() != int32(len(names)-1) {
		t.Errorf("expected 1 success and %d duplicates, got %d and %d",
			len(names)-1, successes.Load(), duplicates.Load())
	}
	if f.svc.Registry().Len() != 1 {
		t.Errorf("expected 1 identity, got %d", f.svc.Registry().Len())
	}
}

func TestRecognize_LivenessRejected(t *testing.T) {
	f := newFixture()
	f.gate.live = false

	_, err := f.svc.Recognize(context.Background(), frame(t, personAlice, 0, 0))
	if !errors.Is(err, ErrLivenessRejected) {
		t.Fatalf("expected ErrLivenessRejected, got %v", err)
	}
	if Message(err) != "Live face not detected. Please use a live camera." {
		t.Errorf("unexpected message %q", Message(err))
	}
	if f.sketcher.calls.Load() != 0 {
		t.Error("no sketch may be produced for a rejected frame")
	}
	if f.extractor.calls.Load() != 0 {
		t.Error("descriptors must not be extracted for a rejected frame")
	}
	if len(f.log.Entries()) != 0 {
		t.Error("nothing should be recorded")
	}
}

func TestRecognize_GateError(t *testing.T) {
	f := newFixture()
	f.gate.err = errors.New("cascade missing")

	_, err := f.svc.Recognize(context.Background(), frame(t, personAlice, 0, 0))
	if err == nil || ErrorKind(err) != KindInternal || IsClientError(err) {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestRecognize_NoFace(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Recognize(context.Background(), frame(t, 0, 0, 0))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if Message(err) != "No face detected" {
		t.Errorf("unexpected message %q", Message(err))
	}
	if f.sketcher.calls.Load() != 0 {
		t.Error("no sketch may be produced without a face")
	}
}

func TestRecognize_UnknownAndMatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Enroll(ctx, EnrollRequest{Name: "carol", Image: frame(t, personCarol, 0, 0)}); err != nil {
		t.Fatal(err)
	}

	// first face is carol, second face is nobody enrolled
	result, err := f.svc.Recognize(ctx, frame(t, personCarol, 0, 255))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(result.Faces))
	}
	if result.Faces[0].Name != "carol" || result.Faces[1].Name != "Unknown" {
		t.Errorf("unexpected names: %q, %q", result.Faces[0].Name, result.Faces[1].Name)
	}

	entries := f.log.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 recorded entries, got %d", len(entries))
	}
	if !entries[0].Matched || entries[1].Matched {
		t.Errorf("unexpected matched flags: %v, %v", entries[0].Matched, entries[1].Matched)
	}
	if entries[0].SketchURL != result.SketchURL || len(entries[0].Descriptor) != 3 {
		t.Errorf("entry not filled in: %+v", entries[0])
	}
}

func TestRecognize_SketchFailureKeepsFaces(t *testing.T) {
	f := newFixture()
	f.sketcher.err = sketch.ErrCompressionUnbounded
	ctx := context.Background()
	if _, err := f.svc.Enroll(ctx, EnrollRequest{Name: "bob", Image: frame(t, personBob, 0, 0)}); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Recognize(ctx, frame(t, personBob, 0, 0))
	if err != nil {
		t.Fatalf("sketch failure must not fail recognition: %v", err)
	}
	if len(result.Faces) != 1 || result.Faces[0].Name != "bob" {
		t.Errorf("unexpected faces: %+v", result.Faces)
	}
	if result.SketchURL != "" || result.SketchError != KindCompressionUnbounded {
		t.Errorf("expected compression_unbounded sketch error, got url=%q err=%q", result.SketchURL, result.SketchError)
	}
}

func TestRecognize_LogFailureIgnored(t *testing.T) {
	f := newFixture()
	f.log.SaveError = errors.New("database down")

	result, err := f.svc.Recognize(context.Background(), frame(t, personAlice, 0, 0))
	if err != nil {
		t.Fatalf("log failure must not fail recognition: %v", err)
	}
	if len(result.Faces) != 1 || result.Faces[0].Name != "Unknown" {
		t.Errorf("unexpected faces: %+v", result.Faces)
	}
}

func TestRecognize_WithoutSketcher(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ext := &fakeExtractor{}
	reg := registry.New(mock.NewMockIdentityStore(), ext, registry.WithLogger(quiet))
	svc := New(reg, facematch.NewMatcher(0, ""), &fakeGate{live: true}, ext, nil, WithLogger(quiet))

	result, err := svc.Recognize(context.Background(), frame(t, personAlice, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.SketchURL != "" || result.SketchError != "" {
		t.Errorf("expected no sketch fields, got %+v", result)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{ErrMissingName, KindMissingName},
		{ErrNoFaceInUpload, KindNoFaceDetected},
		{ErrDuplicateIdentity, KindDuplicateIdentity},
		{ErrLivenessRejected, KindLivenessRejected},
		{ErrMultipleFaces, KindMultipleFaces},
		{sketch.ErrCompressionUnbounded, KindCompressionUnbounded},
		{&registry.BootstrapError{Name: "alice", Err: registry.ErrNoDescriptor}, KindBootstrapFailure},
		{imaging.ErrInvalidImage, KindInvalidImage},
		{database.ErrNameTaken, KindNameTaken},
		{database.ErrInvalidName, KindInvalidName},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.expected {
				t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
