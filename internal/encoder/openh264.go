//go:build openh264

package encoder

/*
#cgo LDFLAGS: -lopenh264
#include <stdlib.h>
#include <string.h>
#include <wels/codec_api.h>

static ISVCEncoder* enc_create() {
	ISVCEncoder* e = NULL;
	if (WelsCreateSVCEncoder(&e) != 0) {
		return NULL;
	}
	return e;
}

static int enc_setup(ISVCEncoder* e, int w, int h, int fps, int bitrate_bps, int gop) {
	SEncParamExt p;
	memset(&p, 0, sizeof(p));
	(*e)->GetDefaultParams(e, &p);
	p.iUsageType = CAMERA_VIDEO_REAL_TIME;
	p.iPicWidth = w;
	p.iPicHeight = h;
	p.fMaxFrameRate = (float)fps;
	p.iTargetBitrate = bitrate_bps;
	p.iRCMode = RC_BITRATE_MODE;
	p.bEnableFrameSkip = false;
	p.uiIntraPeriod = (unsigned int)gop;
	p.iSpatialLayerNum = 1;
	p.sSpatialLayers[0].iVideoWidth = w;
	p.sSpatialLayers[0].iVideoHeight = h;
	p.sSpatialLayers[0].fFrameRate = (float)fps;
	p.sSpatialLayers[0].iSpatialBitrate = bitrate_bps;
	return (*e)->InitializeExt(e, &p);
}

static int enc_encode(ISVCEncoder* e, SSourcePicture* pic, SFrameBSInfo* info) {
	return (*e)->EncodeFrame(e, pic, info);
}

static int enc_force_idr(ISVCEncoder* e) {
	return (*e)->ForceIntraFrame(e, true);
}

static void enc_destroy(ISVCEncoder* e) {
	(*e)->Uninitialize(e);
	WelsDestroySVCEncoder(e);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
)

type openH264 struct {
	mu  sync.Mutex
	enc *C.ISVCEncoder
	cfg Config

	// Pinned copies of the planes, cgo must not see Go memory move.
	yBuf unsafe.Pointer
	uBuf unsafe.Pointer
	vBuf unsafe.Pointer
}

// NewH264 creates an OpenH264 encoder bound to one fixed geometry.
func NewH264(cfg Config) (Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid encoder geometry %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 256
	}
	if cfg.GOP <= 0 {
		cfg.GOP = cfg.FPS * 2
	}

	enc := C.enc_create()
	if enc == nil {
		return nil, fmt.Errorf("creating openh264 encoder")
	}
	rv := C.enc_setup(enc, C.int(cfg.Width), C.int(cfg.Height), C.int(cfg.FPS),
		C.int(cfg.BitrateKbps*1000), C.int(cfg.GOP))
	if rv != 0 {
		C.enc_destroy(enc)
		return nil, fmt.Errorf("initializing openh264 encoder: code %d", int(rv))
	}

	ySize := cfg.Width * cfg.Height
	uvSize := ySize / 4
	return &openH264{
		enc:  enc,
		cfg:  cfg,
		yBuf: C.malloc(C.size_t(ySize)),
		uBuf: C.malloc(C.size_t(uvSize)),
		vBuf: C.malloc(C.size_t(uvSize)),
	}, nil
}

func (e *openH264) Encode(frame *bitstream.I420) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil, fmt.Errorf("encoder is closed")
	}
	if frame.Width != e.cfg.Width || frame.Height != e.cfg.Height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.cfg.Width, e.cfg.Height)
	}

	C.memcpy(e.yBuf, unsafe.Pointer(&frame.Y[0]), C.size_t(len(frame.Y)))
	C.memcpy(e.uBuf, unsafe.Pointer(&frame.U[0]), C.size_t(len(frame.U)))
	C.memcpy(e.vBuf, unsafe.Pointer(&frame.V[0]), C.size_t(len(frame.V)))

	var pic C.SSourcePicture
	pic.iColorFormat = C.videoFormatI420
	pic.iPicWidth = C.int(frame.Width)
	pic.iPicHeight = C.int(frame.Height)
	pic.iStride[0] = C.int(frame.Width)
	pic.iStride[1] = C.int(frame.Width / 2)
	pic.iStride[2] = C.int(frame.Width / 2)
	pic.pData[0] = (*C.uchar)(e.yBuf)
	pic.pData[1] = (*C.uchar)(e.uBuf)
	pic.pData[2] = (*C.uchar)(e.vBuf)

	var info C.SFrameBSInfo
	if rv := C.enc_encode(e.enc, &pic, &info); rv != 0 {
		return nil, fmt.Errorf("encoding frame: code %d", int(rv))
	}
	if info.eFrameType == C.videoFrameTypeSkip {
		return nil, nil
	}

	var out []byte
	for i := 0; i < int(info.iLayerNum); i++ {
		layer := info.sLayerInfo[i]
		size := 0
		for j := 0; j < int(layer.iNalCount); j++ {
			nalLen := *(*C.int)(unsafe.Pointer(uintptr(unsafe.Pointer(layer.pNalLengthInByte)) +
				uintptr(j)*unsafe.Sizeof(C.int(0))))
			size += int(nalLen)
		}
		out = append(out, C.GoBytes(unsafe.Pointer(layer.pBsBuf), C.int(size))...)
	}
	return out, nil
}

func (e *openH264) ForceIDR() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc != nil {
		C.enc_force_idr(e.enc)
	}
}

func (e *openH264) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return
	}
	C.enc_destroy(e.enc)
	e.enc = nil
	C.free(e.yBuf)
	C.free(e.uBuf)
	C.free(e.vBuf)
}
