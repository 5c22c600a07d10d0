package device

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"scanstation/internal/cropstore"
	"scanstation/internal/services"
)

// Extension returns the raw file extension for an image format.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	default:
		return "png"
	}
}

func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "png", "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, format, nil
}

// writeImage encodes img to a temp file next to path and renames it into place.
func writeImage(path string, img image.Image, format string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := encodeImage(tmp, img, format); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// scaleRect maps rect from its native dimensions onto bounds.
func scaleRect(rect cropstore.Rect, bounds image.Rectangle) image.Rectangle {
	sx := float64(bounds.Dx()) / float64(rect.NativeWidth)
	sy := float64(bounds.Dy()) / float64(rect.NativeHeight)
	r := image.Rect(
		int(float64(rect.Left)*sx),
		int(float64(rect.Top)*sy),
		int(float64(rect.Left+rect.Width)*sx),
		int(float64(rect.Top+rect.Height)*sy),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

// cropFile crops the image at path in place, keeping its format.
func cropFile(path string, rect cropstore.Rect) error {
	if err := rect.Validate(); err != nil {
		return err
	}
	img, format, err := decodeFile(path)
	if err != nil {
		return err
	}
	r := scaleRect(rect, img.Bounds())
	if r.Empty() {
		return services.Wrap(services.ErrValidation, "device", "crop", "rectangle is empty after scaling", nil)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return writeImage(path, dst, format)
}

// Thumbnail decodes the image at path and scales it to at most maxWidth pixels wide.
func Thumbnail(path string, maxWidth int) (image.Image, error) {
	img, _, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img, nil
	}
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}
