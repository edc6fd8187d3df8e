package capture

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	// Register decoders for the formats capture rigs produce.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/monitoring"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/security"
)

// FrameSource exposes a captured scene as an indexed frame sequence.
// LoadFrame returns (nil, nil) for an unreadable frame; the engine then
// treats that frame as absent. Implementations must report fixed
// dimensions for the whole sequence.
type FrameSource interface {
	LoadFrame(index int) (image.Image, error)
	TotalFrames() int
	Width() int
	Height() int
}

// DirectorySourceConfig tunes how a directory of stills is read.
type DirectorySourceConfig struct {
	// MaxDimension, when > 0, downscales frames so their longer side
	// does not exceed it. Inference servers rarely want full-resolution
	// stills.
	MaxDimension int
}

// DirectorySource reads frames from a directory of still images, sorted
// by filename. Frame dimensions come from the first decodable image;
// EXIF orientation is normalized so bounding boxes line up with what
// the capture operator saw.
type DirectorySource struct {
	dir    string
	files  []string
	width  int
	height int
	config DirectorySourceConfig
}

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// NewDirectorySource scans dir for frame images. It fails when the
// directory cannot be listed, contains no frames, or no frame decodes;
// those are initialization errors, not per-frame ones.
func NewDirectorySource(dir string, config DirectorySourceConfig) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frame images in %s", dir)
	}
	sort.Strings(files)

	src := &DirectorySource{dir: dir, files: files, config: config}

	// Probe for dimensions: the first decodable frame sets them.
	for i := range files {
		img, err := src.LoadFrame(i)
		if err != nil {
			return nil, err
		}
		if img != nil {
			b := img.Bounds()
			src.width = b.Dx()
			src.height = b.Dy()
			break
		}
	}
	if src.width == 0 {
		return nil, fmt.Errorf("no decodable frame images in %s", dir)
	}

	monitoring.Logf("capture source %s: %d frames, %dx%d", dir, len(files), src.width, src.height)
	return src, nil
}

// TotalFrames returns the number of frame files found.
func (s *DirectorySource) TotalFrames() int { return len(s.files) }

// Width returns the frame width in pixels.
func (s *DirectorySource) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *DirectorySource) Height() int { return s.height }

// LoadFrame decodes the frame at index. Out-of-range indices and frames
// that fail to open or decode yield (nil, nil): the caller counts the
// frame as absent and moves on.
func (s *DirectorySource) LoadFrame(index int) (image.Image, error) {
	if index < 0 || index >= len(s.files) {
		return nil, nil
	}
	path := filepath.Join(s.dir, s.files[index])
	if err := security.ValidateFramePath(path, s.dir); err != nil {
		monitoring.Logf("frame %d: rejected path %s: %v", index, path, err)
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		monitoring.Logf("frame %d: open %s: %v", index, path, err)
		return nil, nil
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		monitoring.Logf("frame %d: decode %s: %v", index, path, err)
		return nil, nil
	}

	img = normalizeOrientation(path, img)

	if s.config.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > s.config.MaxDimension || b.Dy() > s.config.MaxDimension {
			img = imaging.Fit(img, s.config.MaxDimension, s.config.MaxDimension, imaging.Lanczos)
		}
	}
	return img, nil
}

// CaptureTime extracts the EXIF original-capture timestamp of a frame.
// Frames without EXIF data report the zero time and no error.
func (s *DirectorySource) CaptureTime(index int) (time.Time, error) {
	if index < 0 || index >= len(s.files) {
		return time.Time{}, fmt.Errorf("frame index %d out of range", index)
	}
	f, err := os.Open(filepath.Join(s.dir, s.files[index]))
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, nil
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// normalizeOrientation applies the EXIF orientation tag so downstream
// region geometry matches the displayed image. Images without EXIF pass
// through unchanged.
func normalizeOrientation(path string, img image.Image) image.Image {
	f, err := os.Open(path)
	if err != nil {
		return img
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return img
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return img
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return img
	}

	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
