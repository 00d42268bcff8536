//go:build !linux

package capture

import "errors"

var errLinuxOnly = errors.New("camera capture requires the linux V4L2 API")

// V4L2Driver is only functional on linux; this stub keeps the rest of the
// engine building elsewhere.
type V4L2Driver struct{}

func NewV4L2Driver() *V4L2Driver {
	return &V4L2Driver{}
}

func (d *V4L2Driver) Open(Params) (Params, error) {
	return Params{}, errLinuxOnly
}

func (d *V4L2Driver) ReadFrame() ([]byte, error) {
	return nil, errLinuxOnly
}

func (d *V4L2Driver) Close() error {
	return nil
}

func ListDevices() []string {
	return nil
}

type FormatCaps struct {
	Format      string   `json:"format"`
	Description string   `json:"description"`
	Sizes       []string `json:"sizes"`
}

func ProbeCaps(string) ([]FormatCaps, error) {
	return nil, errLinuxOnly
}
