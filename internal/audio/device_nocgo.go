//go:build nocgo

package audio

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// errNoDevice is returned by every device operation in builds without cgo.
var errNoDevice = errors.New("audio device not available in nocgo build")

// Device stub for nocgo builds.
type Device struct {
	config DeviceConfig
	Volume float64
}

// OpenDevice always fails without cgo.
func OpenDevice(config DeviceConfig, _ *log.Logger) (*Device, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return nil, errNoDevice
}

// Config returns the requested format.
func (d *Device) Config() DeviceConfig { return d.config }

// OpenSink always fails without cgo.
func (d *Device) OpenSink(_, _, _ int) (playback.AudioSink, error) {
	return nil, errNoDevice
}
