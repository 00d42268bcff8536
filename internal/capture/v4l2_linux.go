//go:build linux

package capture

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blackjack/webcam"
)

// V4L2 fourcc codes, little-endian packed.
const (
	fourccMJPG = webcam.PixelFormat(0x47504A4D) // 'MJPG'
	fourccYUYV = webcam.PixelFormat(0x56595559) // 'YUYV'
	fourccNV12 = webcam.PixelFormat(0x3231564E) // 'NV12'
)

func pixelFormatOf(f webcam.PixelFormat) PixelFormat {
	switch f {
	case fourccMJPG:
		return FormatMJPEG
	case fourccYUYV:
		return FormatYUYV
	case fourccNV12:
		return FormatNV12
	default:
		return FormatUnknown
	}
}

// preferenceOrder lists the fourcc candidates for a requested format, most
// wanted first. MJPEG streams want the camera's JPEG output; raw formats feed
// the encoder directly.
func preferenceOrder(want PixelFormat) []webcam.PixelFormat {
	switch want {
	case FormatMJPEG:
		return []webcam.PixelFormat{fourccMJPG, fourccYUYV, fourccNV12}
	case FormatNV12:
		return []webcam.PixelFormat{fourccNV12, fourccYUYV, fourccMJPG}
	default:
		return []webcam.PixelFormat{fourccYUYV, fourccNV12, fourccMJPG}
	}
}

// V4L2Driver captures through the kernel V4L2 streaming API.
type V4L2Driver struct {
	cam *webcam.Webcam
}

func NewV4L2Driver() *V4L2Driver {
	return &V4L2Driver{}
}

func (d *V4L2Driver) Open(p Params) (Params, error) {
	cam, err := webcam.Open(p.Device)
	if err != nil {
		return Params{}, fmt.Errorf("opening %s: %w", p.Device, err)
	}

	supported := cam.GetSupportedFormats()
	var chosen webcam.PixelFormat
	for _, f := range preferenceOrder(p.Format) {
		if _, ok := supported[f]; ok {
			chosen = f
			break
		}
	}
	if chosen == 0 {
		cam.Close()
		return Params{}, fmt.Errorf("%s offers no MJPG, YUYV or NV12 output", p.Device)
	}

	format, w, h, err := cam.SetImageFormat(chosen, uint32(p.Width), uint32(p.Height))
	if err != nil {
		cam.Close()
		return Params{}, fmt.Errorf("setting %dx%d on %s: %w", p.Width, p.Height, p.Device, err)
	}
	if p.FPS > 0 {
		// Not every device honors the rate; keep going with its default.
		_ = cam.SetFramerate(float32(p.FPS))
	}
	if err := cam.SetBufferCount(4); err != nil {
		cam.Close()
		return Params{}, fmt.Errorf("setting buffer count on %s: %w", p.Device, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return Params{}, fmt.Errorf("starting stream on %s: %w", p.Device, err)
	}

	d.cam = cam
	granted := p
	granted.Width = int(w)
	granted.Height = int(h)
	granted.Format = pixelFormatOf(format)
	return granted, nil
}

func (d *V4L2Driver) ReadFrame() ([]byte, error) {
	for {
		err := d.cam.WaitForFrame(5)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, err
		}
		frame, err := d.cam.ReadFrame()
		if err != nil {
			return nil, err
		}
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

func (d *V4L2Driver) Close() error {
	if d.cam == nil {
		return nil
	}
	cam := d.cam
	d.cam = nil
	cam.StopStreaming()
	return cam.Close()
}

// ListDevices returns the /dev/video* nodes in sorted order.
func ListDevices() []string {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil
	}
	var devices []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "video") {
			devices = append(devices, "/dev/"+e.Name())
		}
	}
	sort.Strings(devices)
	return devices
}

// FormatCaps is one pixel format a device offers plus its frame size ranges.
type FormatCaps struct {
	Format      string   `json:"format"`
	Description string   `json:"description"`
	Sizes       []string `json:"sizes"`
}

// ProbeCaps opens a device read-only and lists its supported formats. Used by
// the capability endpoint; the device is closed before returning.
func ProbeCaps(device string) ([]FormatCaps, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	defer cam.Close()

	supported := cam.GetSupportedFormats()
	formats := make([]webcam.PixelFormat, 0, len(supported))
	for f := range supported {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })

	caps := make([]FormatCaps, 0, len(formats))
	for _, f := range formats {
		fc := FormatCaps{
			Format:      pixelFormatOf(f).String(),
			Description: supported[f],
		}
		for _, s := range cam.GetSupportedFrameSizes(f) {
			fc.Sizes = append(fc.Sizes, s.GetString())
		}
		caps = append(caps, fc)
	}
	return caps, nil
}
