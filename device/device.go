/*
DESCRIPTION
  device.go provides Camera, an interface that describes a camera from which
  low resolution luminance frames may be captured and whose high resolution
  encoder may be started and stopped on demand.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package device provides an interface and implementations for cameras that
// feed the motion triggered recorder.
package device

import (
	"fmt"
	"io"

	"github.com/ausocean/motioncam/recorder/config"
)

// Frame is a low resolution luminance frame. Luma holds Width*Height samples
// in row major order.
type Frame struct {
	Width  int
	Height int
	Luma   []byte
}

// Camera describes a configurable camera. Capture is used by the detection
// loop, while the encoder is driven by the recording controller.
type Camera interface {
	// Name returns the name of the Camera.
	Name() string

	// Set allows for configuration of the Camera using a Config struct. An
	// implementation should specify what fields are considered.
	Set(c config.Config) error

	// Start will start the Camera capturing; after which Capture may be called.
	Start() error

	// Stop will stop the Camera. An encoder that is still running is stopped
	// first.
	Stop() error

	// Capture blocks until the next low resolution frame is available.
	Capture() (Frame, error)

	// StartEncoder starts writing the high resolution elementary stream to the
	// file at path, writing one timecode line per encoded frame to timecodes.
	StartEncoder(path string, timecodes io.Writer) error

	// StopEncoder stops the encoder started by StartEncoder and releases the
	// video file. Nothing is written to the timecodes writer after it returns.
	StopEncoder() error

	// SetGain sets the sensor gain.
	SetGain(gain float64) error

	// IsRunning is used to determine if the device is running.
	IsRunning() bool
}

// MultiError implements the built in error interface. MultiError is used here
// to collect multi errors during validation of configuration parameters for
// Cameras.
type MultiError []error

func (me MultiError) Error() string {
	if len(me) == 0 {
		panic("device: invalid use of MultiError")
	}
	return fmt.Sprintf("%v", []error(me))
}
