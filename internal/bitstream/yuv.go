package bitstream

import "fmt"

// I420 is a reusable planar YUV420 frame. Responders allocate one per stream
// and convert every captured frame into it before encoding.
type I420 struct {
	Width  int
	Height int
	Y      []byte
	U      []byte
	V      []byte
}

// NewI420 allocates the three planes. Width and height must be even, the
// planar converters do not handle cropped chroma rows.
func NewI420(width, height int) (*I420, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("i420 geometry must be positive and even, got %dx%d", width, height)
	}
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &I420{
		Width:  width,
		Height: height,
		Y:      make([]byte, ySize),
		U:      make([]byte, uvSize),
		V:      make([]byte, uvSize),
	}, nil
}

// FromYUYV converts one packed YUYV 4:2:2 frame. The two chroma samples of
// each 2x2 block are averaged vertically: U from byte +1 of both rows, V
// from byte +3 of both rows.
func (f *I420) FromYUYV(src []byte) error {
	if len(src) != f.Width*f.Height*2 {
		return fmt.Errorf("yuyv frame size %d does not match %dx%d", len(src), f.Width, f.Height)
	}
	w, h := f.Width, f.Height
	uvWidth := w / 2
	for y := 0; y < h; y += 2 {
		row1 := src[y*w*2:]
		row2 := src[(y+1)*w*2:]
		yplane1 := f.Y[y*w:]
		yplane2 := f.Y[(y+1)*w:]
		urow := f.U[(y/2)*uvWidth:]
		vrow := f.V[(y/2)*uvWidth:]

		for x := 0; x < w; x += 2 {
			y0 := row1[2*x+0]
			u0 := row1[2*x+1]
			y1 := row1[2*x+2]
			v0 := row1[2*x+3]

			y2 := row2[2*x+0]
			u1 := row2[2*x+1]
			y3 := row2[2*x+2]
			v1 := row2[2*x+3]

			yplane1[x] = y0
			yplane1[x+1] = y1
			yplane2[x] = y2
			yplane2[x+1] = y3

			urow[x/2] = byte((int(u0) + int(u1)) / 2)
			vrow[x/2] = byte((int(v0) + int(v1)) / 2)
		}
	}
	return nil
}

// FromNV12 converts a semi-planar NV12 frame: the Y plane is copied honoring
// its stride and the interleaved UV plane is split into separate half
// resolution planes.
func (f *I420) FromNV12(srcY, srcUV []byte, strideY, strideUV int) error {
	w, h := f.Width, f.Height
	if strideY < w || strideUV < w {
		return fmt.Errorf("nv12 strides %d/%d too small for width %d", strideY, strideUV, w)
	}
	if len(srcY) < strideY*(h-1)+w {
		return fmt.Errorf("nv12 luma plane size %d too small for %dx%d stride %d", len(srcY), w, h, strideY)
	}
	if len(srcUV) < strideUV*(h/2-1)+w {
		return fmt.Errorf("nv12 chroma plane size %d too small for %dx%d stride %d", len(srcUV), w, h, strideUV)
	}
	for y := 0; y < h; y++ {
		copy(f.Y[y*w:(y+1)*w], srcY[y*strideY:])
	}
	uvWidth := w / 2
	for y := 0; y < h/2; y++ {
		row := srcUV[y*strideUV:]
		urow := f.U[y*uvWidth:]
		vrow := f.V[y*uvWidth:]
		for x := 0; x < uvWidth; x++ {
			urow[x] = row[2*x]
			vrow[x] = row[2*x+1]
		}
	}
	return nil
}

// FromNV12Packed converts an NV12 frame stored as one contiguous buffer with
// no padding, the layout V4L2 delivers for NV12 capture.
func (f *I420) FromNV12Packed(src []byte) error {
	ySize := f.Width * f.Height
	if len(src) < ySize+ySize/2 {
		return fmt.Errorf("nv12 frame size %d does not match %dx%d", len(src), f.Width, f.Height)
	}
	return f.FromNV12(src[:ySize], src[ySize:], f.Width, f.Width)
}
