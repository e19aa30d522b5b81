// Package imaging loads foot radiographs from disk as 8-bit grayscale
// images, together with whatever patient metadata the file carries.
//
// Regular raster formats (PNG, JPEG, GIF, BMP, TIFF) are decoded through
// the image package registry; DICOM files are decoded and windowed to 8 bit
// the way a viewer would display them.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// DefaultExtensions are the file extensions picked up when scanning a folder.
var DefaultExtensions = []string{".dcm", ".dicom", ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}

// Metadata describes a loaded image. DICOM files fill the patient fields;
// other formats only carry the file name, format and size.
type Metadata struct {
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PatientName string `json:"patient_name,omitempty"`
	PatientID   string `json:"patient_id,omitempty"`
	StudyDate   string `json:"study_date,omitempty"`
	Modality    string `json:"modality,omitempty"`
	BodyPart    string `json:"body_part,omitempty"`
}

// Fields returns the non-empty metadata as label/value pairs in display
// order.
func (m Metadata) Fields() [][2]string {
	all := [][2]string{
		{"Filename", m.Filename},
		{"Format", m.Format},
		{"Size", fmt.Sprintf("%dx%d", m.Width, m.Height)},
		{"Patient Name", m.PatientName},
		{"Patient ID", m.PatientID},
		{"Study Date", m.StudyDate},
		{"Modality", m.Modality},
		{"Body Part", m.BodyPart},
	}
	fields := all[:0]
	for _, f := range all {
		if f[1] != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// IsDICOM reports whether path has a DICOM extension.
func IsDICOM(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".dcm" || ext == ".dicom"
}

// IsSupported reports whether path has one of the given extensions. A nil
// list uses DefaultExtensions.
func IsSupported(path string, extensions []string) bool {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Load reads an image file as grayscale.
//
// Parameters:
//   - path: a DICOM file (.dcm, .dicom) or any registered raster format
//
// Returns:
//   - the image with its origin at (0, 0)
//   - metadata describing the file
//   - an error if the file cannot be read or decoded
func Load(path string) (*image.Gray, Metadata, error) {
	if IsDICOM(path) {
		return LoadDICOM(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer file.Close()

	gray, format, err := Decode(file)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return gray, Metadata{
		Filename: filepath.Base(path),
		Format:   format,
		Width:    gray.Bounds().Dx(),
		Height:   gray.Bounds().Dy(),
	}, nil
}

// Decode decodes a raster image from r and converts it to grayscale.
func Decode(r io.Reader) (*image.Gray, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", err
	}
	return ToGray(img), format, nil
}

// ToGray converts img to an 8-bit grayscale image with its origin at (0, 0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// ToRGBA returns a color copy of img suitable for drawing overlays.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Invert returns the photographic negative of a grayscale image.
func Invert(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Bounds())
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: 255 - img.GrayAt(x, y).Y})
		}
	}
	return out
}
