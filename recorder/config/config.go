/*
NAME
  config.go

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config contains the configuration settings for the motion triggered
// recorder.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ausocean/utils/logging"
)

// Config provides parameters relevant to a recorder instance. A new config
// must be passed to the recorder constructor. Fields marked as required have
// no default and must be provided; see Required.
type Config struct {
	// Bitrate is the target encoder bitrate in kbps.
	Bitrate uint

	// CaptureTimeout is how long a capture may wait for a fresh low resolution
	// frame before it is reported as failed.
	CaptureTimeout time.Duration

	// ContainerExt is the file extension of finalized recordings, without the dot.
	ContainerExt string

	// Encoder names the ffmpeg H.264 encoder used for recordings.
	Encoder string

	FrameRate uint // Capture frame rate of the camera.

	// Gain is the analogue gain applied to the sensor. It may be changed while
	// running.
	Gain float64

	Height uint // Height of recorded video.

	// InactivityTimeout is how long activity must stay below MotionThreshold
	// before a recording is ended. Required.
	InactivityTimeout time.Duration

	// IndicatorPin is the GPIO pin driven high while recording, e.g. "GPIO_17".
	// An empty value disables the LED indicator.
	IndicatorPin string

	// InputPath is the V4L2 device the camera is read from.
	InputPath string

	// Logger holds an implementation of the Logger interface. This must be set
	// for the recorder to work correctly.
	Logger logging.Logger

	// LogLevel is the logging verbosity level.
	// Valid values are defined by enums from the logger package: logging.Debug,
	// logging.Info, logging.Warning logging.Error, logging.Fatal.
	LogLevel int8

	LoresHeight uint // Height of frames used for motion detection. Required.
	LoresWidth  uint // Width of frames used for motion detection. Required.

	// MotionThreshold is the mean squared luminance difference between two
	// consecutive low resolution frames that is considered activity. Required.
	MotionThreshold float64

	MQTTDevice   string // Home Assistant device name.
	MQTTHost     string // MQTT broker address. Empty disables MQTT.
	MQTTPassword string
	MQTTUsername string

	// MuxerPath is the path or name of the mkvmerge executable.
	MuxerPath string

	// MuxTimeout bounds a single muxer invocation. Zero means no bound.
	MuxTimeout time.Duration

	// OutputDir is where finalized recordings are moved to. Required.
	OutputDir string

	// PollInterval bounds how long the muxing worker waits on an empty queue
	// before checking for shutdown.
	PollInterval time.Duration

	// Recover causes recordings left unfinalized in TempDir to be queued at
	// start.
	Recover bool

	// ScoreLogInterval is the number of frame comparisons between debug logs
	// of the activity score.
	ScoreLogInterval uint

	Suppress bool // Holds logger suppression state.

	// TempDir holds intermediate video and timecode files and muxer output
	// before it is moved. Required.
	TempDir string

	Width uint // Width of recorded video.
}

// Required lists the keys that have no default.
var Required = []string{
	KeyMotionThreshold,
	KeyInactivityTimeout,
	KeyLoresWidth,
	KeyLoresHeight,
	KeyTempDir,
	KeyOutputDir,
}

// Defaults holds values for variables whose zero value is itself valid, so
// that Validate cannot tell unset from set. They are applied by SetDefaults.
var Defaults = map[string]string{
	KeyGain:     strconv.FormatFloat(defaultGain, 'f', -1, 64),
	KeySuppress: "true",
}

// SetDefaults adds the entries of Defaults missing from vars.
func SetDefaults(vars map[string]string) {
	for k, v := range Defaults {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}
}

// CheckRequired returns an error naming every required key missing from vars.
func CheckRequired(vars map[string]string) error {
	var missing []string
	for _, k := range Required {
		if _, ok := vars[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required config: %v", missing)
}

// Validate checks for any errors in the config fields and defaults settings
// if particular optional parameters have not been defined. Errors for
// required fields are joined and returned.
func (c *Config) Validate() error {
	var errs []error
	for _, v := range Variables {
		if v.Validate == nil {
			continue
		}
		if err := v.Validate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Update takes a map of configuration variable names and their corresponding
// values, parses the string values and converting into correct type, and then
// sets the config struct fields as appropriate.
func (c *Config) Update(vars map[string]string) {
	for _, value := range Variables {
		if v, ok := vars[value.Name]; ok && value.Update != nil {
			value.Update(c, v)
		}
	}
}

func (c *Config) LogInvalidField(name string, def interface{}) {
	c.Logger.Info(name+" bad or unset, defaulting", name, def)
}

// checkDir ensures dir is an existing, writable directory.
func checkDir(name, dir string) error {
	if dir == "" {
		return fmt.Errorf("%s is empty", name)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", name, dir)
	}
	f, err := os.CreateTemp(dir, ".motioncam-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", name, err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}
