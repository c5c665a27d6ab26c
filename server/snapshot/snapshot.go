// Package snapshot writes JPEG crops of violating vehicles and their plates.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// JPEGQuality of written crops
const JPEGQuality = 85

// The plate is searched for in this vertical band of the vehicle box
const (
	PlateTopFraction    = 0.5
	PlateBottomFraction = 1.0
	PlateMarginFraction = 0.05
)

// Writer crops frame images and writes them into Dir
type Writer struct {
	Dir string
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create snapshot directory %v: %w", dir, err)
	}
	return &Writer{Dir: dir}, nil
}

// Crops produced for one violation. Any of the fields may be empty.
type Crops struct {
	Vehicle     *cimg.Image
	Plate       *cimg.Image
	VehiclePath string
	PlatePath   string
}

// Filename returns the snapshot name for a violation, eg "over_speeding_20250301_120000_000123_f42.jpg"
func Filename(prefix string, at time.Time, frameIndex int64) string {
	return fmt.Sprintf("%v_%v_%06d_f%v.jpg", prefix, at.Format("20060102_150405"), at.Nanosecond()/1000, frameIndex)
}

// Save reads the frame image, and writes the vehicle crop, and the plate crop.
// 'kind' is the violation name, which is used as the filename prefix.
func (w *Writer) Save(imagePath string, box nn.Rect, kind string, at time.Time, frameIndex int64) (*Crops, error) {
	img, err := cimg.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("Failed to read frame image %v: %w", imagePath, err)
	}
	return w.SaveImage(img, box, kind, at, frameIndex)
}

// SaveImage is Save for an image that has already been decoded
func (w *Writer) SaveImage(img *cimg.Image, box nn.Rect, kind string, at time.Time, frameIndex int64) (*Crops, error) {
	crops := &Crops{}
	vbox := box.ClampTo(img.Width, img.Height)
	if vbox.Empty() {
		return crops, nil
	}
	crops.Vehicle = Crop(img, vbox)
	crops.VehiclePath = filepath.Join(w.Dir, Filename(kind, at, frameIndex))
	if err := writeJPEG(crops.Vehicle, crops.VehiclePath); err != nil {
		return nil, err
	}

	if pbox, ok := PlateRegion(box, img.Width, img.Height); ok {
		crops.Plate = Crop(img, pbox)
		crops.PlatePath = filepath.Join(w.Dir, Filename(kind+"_plate", at, frameIndex))
		if err := writeJPEG(crops.Plate, crops.PlatePath); err != nil {
			return nil, err
		}
	}
	return crops, nil
}

func writeJPEG(img *cimg.Image, filename string) error {
	buf, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling(cimg.Sampling420), JPEGQuality, cimg.Flags(0)))
	if err != nil {
		return fmt.Errorf("Failed to compress %v: %w", filename, err)
	}
	if err := os.WriteFile(filename, buf, 0644); err != nil {
		return fmt.Errorf("Failed to write %v: %w", filename, err)
	}
	return nil
}

// PlateRegion returns the part of the vehicle box where we expect to find the plate.
// The vehicle box is clipped to the image first.
// Returns false if the region is empty.
func PlateRegion(box nn.Rect, imgWidth, imgHeight int) (nn.Rect, bool) {
	vbox := box.ClampTo(imgWidth, imgHeight)
	if vbox.Empty() {
		return nn.Rect{}, false
	}
	h := float64(vbox.Height)
	margin := int32(float64(vbox.Width) * PlateMarginFraction)
	y1 := vbox.Y + int32(h*PlateTopFraction)
	y2 := vbox.Y + int32(h*PlateBottomFraction)
	r := nn.MakeRect(vbox.X+margin, y1, vbox.X2()-margin, y2)
	return r, !r.Empty()
}

// Crop copies the given rectangle out of img. The rectangle must lie inside the image.
func Crop(img *cimg.Image, r nn.Rect) *cimg.Image {
	dst := cimg.NewImage(int(r.Width), int(r.Height), img.Format)
	nchan := img.NChan()
	rowBytes := int(r.Width) * nchan
	for y := 0; y < int(r.Height); y++ {
		src := (int(r.Y)+y)*img.Stride + int(r.X)*nchan
		copy(dst.Pixels[y*dst.Stride:y*dst.Stride+rowBytes], img.Pixels[src:src+rowBytes])
	}
	return dst
}
