package device

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"scanstation/internal/workflow"
)

const (
	virtualWidth  = 600
	virtualHeight = 800
)

// VirtualDriver renders synthetic page images. It is used for dry runs and tests.
type VirtualDriver struct {
	name   string
	format string

	mu        sync.Mutex
	connected bool
	prepared  bool
	settings  workflow.DeviceSettings
	shots     int
	finalized int
}

// NewVirtualDriver constructs a connected virtual camera writing images in format.
func NewVirtualDriver(name, format string) *VirtualDriver {
	return &VirtualDriver{name: name, format: format, connected: true}
}

func (d *VirtualDriver) Name() string { return d.name }

func (d *VirtualDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// SetConnected simulates unplugging or replugging the camera.
func (d *VirtualDriver) SetConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	if !connected {
		d.prepared = false
	}
	d.mu.Unlock()
}

func (d *VirtualDriver) Prepare(_ context.Context, settings workflow.DeviceSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return errors.New("camera not connected")
	}
	d.settings = settings
	d.prepared = true
	return nil
}

func (d *VirtualDriver) Capture(ctx context.Context, path string, target workflow.Parity) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return errors.New("camera not connected")
	}
	if !d.prepared {
		d.mu.Unlock()
		return errors.New("camera not prepared")
	}
	d.shots++
	shot := d.shots
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return writeImage(path, renderPage(shot, target), d.format)
}

func (d *VirtualDriver) Finalize(context.Context) error {
	d.mu.Lock()
	d.prepared = false
	d.finalized++
	d.mu.Unlock()
	return nil
}

// Shots reports how many images the driver has written.
func (d *VirtualDriver) Shots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shots
}

// Finalized reports how many times Finalize ran.
func (d *VirtualDriver) Finalized() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finalized
}

// renderPage draws a paper-coloured page on a dark background with a block of
// text lines whose length varies by shot. Even pages sit on the left of the
// frame and odd pages on the right, as a book cradle would show them.
func renderPage(shot int, target workflow.Parity) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, virtualWidth, virtualHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)

	page := image.Rect(60, 40, virtualWidth-40, virtualHeight-40)
	if target == workflow.ParityEven {
		page = image.Rect(40, 40, virtualWidth-60, virtualHeight-40)
	}
	draw.Draw(img, page, image.NewUniform(color.RGBA{245, 240, 225, 255}), image.Point{}, draw.Src)

	ink := image.NewUniform(color.RGBA{30, 30, 30, 255})
	for line := 0; line < 24; line++ {
		width := page.Dx() - 80 - ((shot*7+line*13)%5)*30
		top := page.Min.Y + 60 + line*26
		draw.Draw(img, image.Rect(page.Min.X+40, top, page.Min.X+40+width, top+8), ink, image.Point{}, draw.Src)
	}
	return img
}
