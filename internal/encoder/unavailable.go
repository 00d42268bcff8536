//go:build !openh264

package encoder

// NewH264 reports H.264 as unavailable in builds without the openh264 tag.
// Handlers map this to a 503 so MJPEG-only deployments stay usable.
func NewH264(Config) (Encoder, error) {
	return nil, ErrUnavailable
}
