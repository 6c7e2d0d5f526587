/*
DESCRIPTION
  variables.go contains a list of structs that provide a variable Name, type in
  a string format, a function for updating the variable in the Config struct
  from a string, and finally, a validation function to check the validity of the
  corresponding field value in the Config.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/sliceutils"
)

// Config map Keys.
const (
	KeyBitrate           = "Bitrate"
	KeyCaptureTimeout    = "CaptureTimeout"
	KeyContainerExt      = "ContainerExt"
	KeyEncoder           = "Encoder"
	KeyFrameRate         = "FrameRate"
	KeyGain              = "Gain"
	KeyHeight            = "Height"
	KeyInactivityTimeout = "InactivityTimeout"
	KeyIndicatorPin      = "IndicatorPin"
	KeyInputPath         = "InputPath"
	KeyLogging           = "logging"
	KeyLoresHeight       = "LoresHeight"
	KeyLoresWidth        = "LoresWidth"
	KeyMotionThreshold   = "MotionThreshold"
	KeyMQTTDevice        = "MQTTDevice"
	KeyMQTTHost          = "MQTTHost"
	KeyMQTTPassword      = "MQTTPassword"
	KeyMQTTUsername      = "MQTTUsername"
	KeyMuxerPath         = "MuxerPath"
	KeyMuxTimeout        = "MuxTimeout"
	KeyOutputDir         = "OutputDir"
	KeyPollInterval      = "PollInterval"
	KeyRecover           = "Recover"
	KeyScoreLogInterval  = "ScoreLogInterval"
	KeySuppress          = "Suppress"
	KeyTempDir           = "TempDir"
	KeyWidth             = "Width"
)

// Config map parameter types.
const (
	typeString   = "string"
	typeUint     = "uint"
	typeBool     = "bool"
	typeFloat    = "float"
	typeDuration = "duration"
)

// Default variable values.
const (
	defaultBitrate          = 6000 // kbps
	defaultCaptureTimeout   = 5 * time.Second
	defaultContainerExt     = "mkv"
	defaultEncoder          = "h264_v4l2m2m"
	defaultFrameRate        = 30
	defaultGain             = 20.0
	defaultHeight           = 720
	defaultInputPath        = "/dev/video0"
	defaultMQTTDevice       = "motioncam"
	defaultMuxerPath        = "mkvmerge"
	defaultPollInterval     = time.Second
	defaultScoreLogInterval = 10
	defaultVerbosity        = logging.Info
	defaultWidth            = 1280
)

// Encoders lists the ffmpeg H.264 encoders the camera may be configured with.
var Encoders = []string{"h264_v4l2m2m", "h264_omx", "libx264"}

// Variables describes the variables that can be used for recorder control.
// These structs provide the name and type of variable, a function for updating
// this variable in a Config, and a function for validating the value of the
// variable. Validate functions default optional fields and return an error
// for bad required fields.
var Variables = []struct {
	Name     string
	Type     string
	Update   func(*Config, string)
	Validate func(*Config) error
}{
	{
		Name:   KeyBitrate,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Bitrate = parseUint(KeyBitrate, v, c) },
		Validate: func(c *Config) error {
			c.Bitrate = lessThanOrEqual(KeyBitrate, c.Bitrate, 0, c, defaultBitrate)
			return nil
		},
	},
	{
		Name:   KeyCaptureTimeout,
		Type:   typeDuration,
		Update: func(c *Config, v string) { c.CaptureTimeout = parseDuration(KeyCaptureTimeout, v, c) },
		Validate: func(c *Config) error {
			if c.CaptureTimeout <= 0 {
				c.LogInvalidField(KeyCaptureTimeout, defaultCaptureTimeout)
				c.CaptureTimeout = defaultCaptureTimeout
			}
			return nil
		},
	},
	{
		Name:   KeyContainerExt,
		Type:   typeString,
		Update: func(c *Config, v string) { c.ContainerExt = strings.TrimPrefix(v, ".") },
		Validate: func(c *Config) error {
			if c.ContainerExt == "" {
				c.LogInvalidField(KeyContainerExt, defaultContainerExt)
				c.ContainerExt = defaultContainerExt
			}
			return nil
		},
	},
	{
		Name:   KeyEncoder,
		Type:   "enum:" + strings.Join(Encoders, ","),
		Update: func(c *Config, v string) { c.Encoder = v },
		Validate: func(c *Config) error {
			if !sliceutils.ContainsString(Encoders, c.Encoder) {
				c.LogInvalidField(KeyEncoder, defaultEncoder)
				c.Encoder = defaultEncoder
			}
			return nil
		},
	},
	{
		Name:   KeyFrameRate,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.FrameRate = parseUint(KeyFrameRate, v, c) },
		Validate: func(c *Config) error {
			c.FrameRate = lessThanOrEqual(KeyFrameRate, c.FrameRate, 0, c, defaultFrameRate)
			return nil
		},
	},
	{
		Name: KeyGain,
		Type: typeFloat,
		Update: func(c *Config, v string) {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.Logger.Warning("invalid Gain var", "value", v)
				return
			}
			c.Gain = f
		},
		Validate: func(c *Config) error {
			if c.Gain < 0 || math.IsNaN(c.Gain) {
				c.LogInvalidField(KeyGain, defaultGain)
				c.Gain = defaultGain
			}
			return nil
		},
	},
	{
		Name:   KeyHeight,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Height = parseUint(KeyHeight, v, c) },
		Validate: func(c *Config) error {
			c.Height = lessThanOrEqual(KeyHeight, c.Height, 0, c, defaultHeight)
			return nil
		},
	},
	{
		Name: KeyInactivityTimeout,
		Type: typeDuration,
		Update: func(c *Config, v string) {
			c.InactivityTimeout = parseDuration(KeyInactivityTimeout, v, c)
		},
		Validate: func(c *Config) error {
			if c.InactivityTimeout <= 0 {
				return fmt.Errorf("%s must be greater than zero, got %v", KeyInactivityTimeout, c.InactivityTimeout)
			}
			return nil
		},
	},
	{
		Name:   KeyIndicatorPin,
		Type:   typeString,
		Update: func(c *Config, v string) { c.IndicatorPin = v },
	},
	{
		Name:   KeyInputPath,
		Type:   typeString,
		Update: func(c *Config, v string) { c.InputPath = v },
		Validate: func(c *Config) error {
			if c.InputPath == "" {
				c.LogInvalidField(KeyInputPath, defaultInputPath)
				c.InputPath = defaultInputPath
			}
			return nil
		},
	},
	{
		Name: KeyLogging,
		Type: "enum:Debug,Info,Warning,Error,Fatal",
		Update: func(c *Config, v string) {
			switch v {
			case "Debug":
				c.LogLevel = logging.Debug
			case "Info":
				c.LogLevel = logging.Info
			case "Warning":
				c.LogLevel = logging.Warning
			case "Error":
				c.LogLevel = logging.Error
			case "Fatal":
				c.LogLevel = logging.Fatal
			default:
				c.Logger.Warning("invalid Logging param", "value", v)
			}
		},
		Validate: func(c *Config) error {
			switch c.LogLevel {
			case logging.Debug, logging.Info, logging.Warning, logging.Error, logging.Fatal:
			default:
				c.LogInvalidField("LogLevel", defaultVerbosity)
				c.LogLevel = defaultVerbosity
			}
			return nil
		},
	},
	{
		Name:   KeyLoresHeight,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.LoresHeight = parseUint(KeyLoresHeight, v, c) },
		Validate: func(c *Config) error {
			if c.LoresHeight == 0 {
				return errors.New(KeyLoresHeight + " must be greater than zero")
			}
			return nil
		},
	},
	{
		Name:   KeyLoresWidth,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.LoresWidth = parseUint(KeyLoresWidth, v, c) },
		Validate: func(c *Config) error {
			if c.LoresWidth == 0 {
				return errors.New(KeyLoresWidth + " must be greater than zero")
			}
			return nil
		},
	},
	{
		Name: KeyMotionThreshold,
		Type: typeFloat,
		Update: func(c *Config, v string) {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.Logger.Warning("invalid MotionThreshold var", "value", v)
				f = -1
			}
			c.MotionThreshold = f
		},
		Validate: func(c *Config) error {
			if c.MotionThreshold < 0 || math.IsNaN(c.MotionThreshold) || math.IsInf(c.MotionThreshold, 0) {
				return fmt.Errorf("%s must be a finite number >= 0, got %v", KeyMotionThreshold, c.MotionThreshold)
			}
			return nil
		},
	},
	{
		Name:   KeyMQTTDevice,
		Type:   typeString,
		Update: func(c *Config, v string) { c.MQTTDevice = v },
		Validate: func(c *Config) error {
			if c.MQTTHost != "" && c.MQTTDevice == "" {
				c.LogInvalidField(KeyMQTTDevice, defaultMQTTDevice)
				c.MQTTDevice = defaultMQTTDevice
			}
			return nil
		},
	},
	{
		Name:   KeyMQTTHost,
		Type:   typeString,
		Update: func(c *Config, v string) { c.MQTTHost = v },
	},
	{
		Name:   KeyMQTTPassword,
		Type:   typeString,
		Update: func(c *Config, v string) { c.MQTTPassword = v },
	},
	{
		Name:   KeyMQTTUsername,
		Type:   typeString,
		Update: func(c *Config, v string) { c.MQTTUsername = v },
	},
	{
		Name:   KeyMuxerPath,
		Type:   typeString,
		Update: func(c *Config, v string) { c.MuxerPath = v },
		Validate: func(c *Config) error {
			if c.MuxerPath == "" {
				c.LogInvalidField(KeyMuxerPath, defaultMuxerPath)
				c.MuxerPath = defaultMuxerPath
			}
			return nil
		},
	},
	{
		Name:   KeyMuxTimeout,
		Type:   typeDuration,
		Update: func(c *Config, v string) { c.MuxTimeout = parseDuration(KeyMuxTimeout, v, c) },
		Validate: func(c *Config) error {
			if c.MuxTimeout < 0 {
				c.LogInvalidField(KeyMuxTimeout, 0)
				c.MuxTimeout = 0
			}
			return nil
		},
	},
	{
		Name:     KeyOutputDir,
		Type:     typeString,
		Update:   func(c *Config, v string) { c.OutputDir = v },
		Validate: func(c *Config) error { return checkDir(KeyOutputDir, c.OutputDir) },
	},
	{
		Name:   KeyPollInterval,
		Type:   typeDuration,
		Update: func(c *Config, v string) { c.PollInterval = parseDuration(KeyPollInterval, v, c) },
		Validate: func(c *Config) error {
			if c.PollInterval <= 0 {
				c.LogInvalidField(KeyPollInterval, defaultPollInterval)
				c.PollInterval = defaultPollInterval
			}
			return nil
		},
	},
	{
		Name:   KeyRecover,
		Type:   typeBool,
		Update: func(c *Config, v string) { c.Recover = parseBool(KeyRecover, v, c) },
	},
	{
		Name:   KeyScoreLogInterval,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.ScoreLogInterval = parseUint(KeyScoreLogInterval, v, c) },
		Validate: func(c *Config) error {
			c.ScoreLogInterval = lessThanOrEqual(KeyScoreLogInterval, c.ScoreLogInterval, 0, c, defaultScoreLogInterval)
			return nil
		},
	},
	{
		Name:   KeySuppress,
		Type:   typeBool,
		Update: func(c *Config, v string) { c.Suppress = parseBool(KeySuppress, v, c) },
	},
	{
		Name:     KeyTempDir,
		Type:     typeString,
		Update:   func(c *Config, v string) { c.TempDir = v },
		Validate: func(c *Config) error { return checkDir(KeyTempDir, c.TempDir) },
	},
	{
		Name:   KeyWidth,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Width = parseUint(KeyWidth, v, c) },
		Validate: func(c *Config) error {
			c.Width = lessThanOrEqual(KeyWidth, c.Width, 0, c, defaultWidth)
			return nil
		},
	},
}

func parseUint(n, v string, c *Config) uint {
	_v, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected unsigned int for param %s", n), "value", v)
	}
	return uint(_v)
}

func parseBool(n, v string, c *Config) (b bool) {
	switch strings.ToLower(v) {
	case "true":
		b = true
	case "false":
		b = false
	default:
		c.Logger.Warning(fmt.Sprintf("expect bool for param %s", n), "value", v)
	}
	return
}

// parseDuration accepts either a Go duration string such as "1.5s" or a plain
// number of seconds.
func parseDuration(n, v string, c *Config) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected duration for param %s", n), "value", v)
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func lessThanOrEqual(n string, v, cmp uint, c *Config, def uint) uint {
	if v <= cmp {
		c.LogInvalidField(n, def)
		return def
	}
	return v
}
