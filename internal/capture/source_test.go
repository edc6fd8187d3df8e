package capture

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeTestFrame encodes a solid PNG of the given size.
func writeTestFrame(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestNewDirectorySource(t *testing.T) {
	dir := t.TempDir()
	// Written out of name order to prove the source sorts by filename.
	writeTestFrame(t, filepath.Join(dir, "frame_0002.png"), 64, 48)
	writeTestFrame(t, filepath.Join(dir, "frame_0001.png"), 64, 48)
	writeTestFrame(t, filepath.Join(dir, "frame_0003.png"), 64, 48)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirectorySource(dir, DirectorySourceConfig{})
	if err != nil {
		t.Fatalf("NewDirectorySource: %v", err)
	}
	if src.TotalFrames() != 3 {
		t.Errorf("TotalFrames = %d, want 3 (non-image files ignored)", src.TotalFrames())
	}
	if src.Width() != 64 || src.Height() != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", src.Width(), src.Height())
	}
	if src.files[0] != "frame_0001.png" || src.files[2] != "frame_0003.png" {
		t.Errorf("files not sorted by name: %v", src.files)
	}

	img, err := src.LoadFrame(1)
	if err != nil {
		t.Fatalf("LoadFrame(1): %v", err)
	}
	if img == nil {
		t.Fatal("LoadFrame(1) = nil for a decodable frame")
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("frame bounds = %v", b)
	}
}

func TestNewDirectorySourceErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		if _, err := NewDirectorySource(filepath.Join(t.TempDir(), "nope"), DirectorySourceConfig{}); err == nil {
			t.Error("missing directory must fail")
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		if _, err := NewDirectorySource(t.TempDir(), DirectorySourceConfig{}); err == nil {
			t.Error("directory without frames must fail")
		}
	})

	t.Run("no decodable frames", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewDirectorySource(dir, DirectorySourceConfig{}); err == nil {
			t.Error("directory with only corrupt frames must fail")
		}
	})
}

func TestLoadFrameUnreadable(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, filepath.Join(dir, "a.png"), 32, 32)
	if err := os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirectorySource(dir, DirectorySourceConfig{})
	if err != nil {
		t.Fatalf("NewDirectorySource: %v", err)
	}

	// Corrupt frame: absent, not an error.
	img, err := src.LoadFrame(1)
	if err != nil {
		t.Errorf("LoadFrame corrupt: err = %v, want nil", err)
	}
	if img != nil {
		t.Error("LoadFrame corrupt: got image, want nil")
	}

	// Out-of-range indices behave the same way.
	for _, idx := range []int{-1, 2, 100} {
		img, err := src.LoadFrame(idx)
		if err != nil || img != nil {
			t.Errorf("LoadFrame(%d) = %v, %v; want nil, nil", idx, img, err)
		}
	}
}

func TestLoadFrameMaxDimension(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, filepath.Join(dir, "big.png"), 400, 200)

	src, err := NewDirectorySource(dir, DirectorySourceConfig{MaxDimension: 100})
	if err != nil {
		t.Fatalf("NewDirectorySource: %v", err)
	}

	img, err := src.LoadFrame(0)
	if err != nil {
		t.Fatalf("LoadFrame: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 100 || b.Dy() > 100 {
		t.Errorf("frame not downscaled: %dx%d", b.Dx(), b.Dy())
	}
	// Aspect ratio preserved: 400x200 fits to 100x50.
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("fit = %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestCaptureTimeWithoutEXIF(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, filepath.Join(dir, "a.png"), 16, 16)

	src, err := NewDirectorySource(dir, DirectorySourceConfig{})
	if err != nil {
		t.Fatalf("NewDirectorySource: %v", err)
	}

	ts, err := src.CaptureTime(0)
	if err != nil {
		t.Errorf("CaptureTime: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("CaptureTime = %v, want zero for EXIF-less frame", ts)
	}
	if _, err := src.CaptureTime(5); err == nil {
		t.Error("CaptureTime out of range must fail")
	}
}
