//go:build !linux || !cgo

package gstcam

import (
	"context"

	"github.com/galoko/PeopleWatcher/internal/hal"
)

// Camera is unavailable off linux.
type Camera struct{}

var _ hal.Camera = (*Camera)(nil)

// New always fails with ErrUnsupported.
func New(opts Options) (*Camera, error) {
	return nil, ErrUnsupported
}

func (c *Camera) Devices(ctx context.Context) ([]hal.DeviceInfo, error) {
	return nil, ErrUnsupported
}

func (c *Camera) Open(id string, cb hal.DeviceCallbacks) error {
	return ErrUnsupported
}
