/*
DESCRIPTION
  webcam.go provides an implementation of Camera for V4L2 webcams.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package webcam provides an implementation of Camera for V4L2 webcams.
package webcam

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/motioncam/codec/h264"
	"github.com/ausocean/motioncam/device"
	"github.com/ausocean/motioncam/recorder/config"
	"github.com/ausocean/utils/logging"
)

// Used to indicate package in logging.
const pkg = "webcam: "

// Configuration defaults.
const (
	defaultInputPath      = "/dev/video0"
	defaultFrameRate      = 30
	defaultBitrate        = 6000
	defaultWidth          = 1280
	defaultHeight         = 720
	defaultEncoder        = "h264_v4l2m2m"
	defaultCaptureTimeout = 5 * time.Second
)

// Configuration field errors.
var (
	errBadFrameRate      = errors.New("frame rate bad or unset, defaulting")
	errBadBitrate        = errors.New("bitrate bad or unset, defaulting")
	errBadWidth          = errors.New("width bad or unset, defaulting")
	errBadHeight         = errors.New("height bad or unset, defaulting")
	errBadInputPath      = errors.New("input path bad or unset, defaulting")
	errBadEncoder        = errors.New("encoder bad or unset, defaulting")
	errBadCaptureTimeout = errors.New("capture timeout bad or unset, defaulting")
	errBadLores          = errors.New("low resolution size unset")
)

// Operational errors.
var (
	ErrNotRunning     = errors.New("webcam not running")
	ErrCaptureTimeout = errors.New("timed out waiting for frame")
	ErrEncoderRunning = errors.New("encoder already started")
	ErrNoEncoder      = errors.New("encoder not started")
)

// Executables used by the Webcam.
var (
	ffmpegPath  = "ffmpeg"
	v4l2ctlPath = "v4l2-ctl"
)

// Webcam is an implementation of the Camera interface for a webcam. A single
// ffmpeg process reads the device and produces both a grey low resolution
// stream, used for capture, and a H.264 stream that is written to file while
// the encoder is started.
type Webcam struct {
	log       logging.Logger
	cfg       config.Config
	cmd       *exec.Cmd
	lores     io.ReadCloser
	hires     *os.File
	frames    chan device.Frame
	gate      *gate
	done      chan struct{}
	ended     chan struct{} // Closed when the low resolution stream ends.
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// New returns a new Webcam.
func New(l logging.Logger) *Webcam {
	return &Webcam{
		log:  l,
		gate: newGate(l),
	}
}

// Name returns the name of the device.
func (w *Webcam) Name() string {
	return "Webcam"
}

// Set will validate the relevant fields of the given Config struct and assign
// the struct to the Webcam's Config. If fields are not valid, an error is
// added to the multiError and a default value is used. The low resolution size
// has no default.
func (w *Webcam) Set(c config.Config) error {
	var errs device.MultiError
	if c.InputPath == "" {
		errs = append(errs, errBadInputPath)
		c.InputPath = defaultInputPath
	}

	if c.Width == 0 {
		errs = append(errs, errBadWidth)
		c.Width = defaultWidth
	}

	if c.Height == 0 {
		errs = append(errs, errBadHeight)
		c.Height = defaultHeight
	}

	if c.FrameRate == 0 {
		errs = append(errs, errBadFrameRate)
		c.FrameRate = defaultFrameRate
	}

	if c.Bitrate == 0 {
		errs = append(errs, errBadBitrate)
		c.Bitrate = defaultBitrate
	}

	if c.Encoder == "" {
		errs = append(errs, errBadEncoder)
		c.Encoder = defaultEncoder
	}

	if c.CaptureTimeout <= 0 {
		errs = append(errs, errBadCaptureTimeout)
		c.CaptureTimeout = defaultCaptureTimeout
	}

	if c.LoresWidth == 0 || c.LoresHeight == 0 {
		errs = append(errs, errBadLores)
	}

	w.cfg = c
	if len(errs) != 0 {
		return errs
	}
	return nil
}

// args returns the ffmpeg arguments for the current configuration. The low
// resolution stream is written to stdout and the H.264 stream to fd 3.
func (w *Webcam) args() []string {
	br := w.cfg.Bitrate * 1000
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-framerate", fmt.Sprint(w.cfg.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", w.cfg.Width, w.cfg.Height),
		"-i", w.cfg.InputPath,
		"-filter_complex", fmt.Sprintf(
			"[0:v]split=2[hi][lo];[lo]scale=%d:%d,format=gray[lores]",
			w.cfg.LoresWidth, w.cfg.LoresHeight,
		),
		"-map", "[lores]",
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1",
		"-map", "[hi]",
		"-c:v", w.cfg.Encoder,
		"-b:v", fmt.Sprint(br),
		"-maxrate", fmt.Sprint(br),
		"-bufsize", fmt.Sprint(br / 2),
		"-g", fmt.Sprint(w.cfg.FrameRate),
		"-bf", "0",
		"-f", "h264",
		"pipe:3",
	}
}

// Start will build the required arguments for ffmpeg and then execute the
// command. Frames become available to Capture once ffmpeg produces them.
func (w *Webcam) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return nil
	}

	args := w.args()
	w.log.Info(pkg+"ffmpeg args", "args", strings.Join(args, " "))
	w.cmd = exec.Command(ffmpegPath, args...)

	var err error
	w.lores, err = w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("could not pipe command error: %w", err)
	}

	hr, hw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("could not create encoder pipe: %w", err)
	}
	w.cmd.ExtraFiles = []*os.File{hw}

	w.log.Info(pkg + "starting webcam")
	err = w.cmd.Start()
	hw.Close()
	if err != nil {
		hr.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	w.hires = hr
	w.frames = make(chan device.Frame, 1)
	w.done = make(chan struct{})
	w.ended = make(chan struct{})
	w.isRunning = true

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		s := bufio.NewScanner(stderr)
		for s.Scan() {
			w.log.Warning(pkg+"ffmpeg stderr", "msg", s.Text())
		}
	}()
	go func() {
		defer w.wg.Done()
		defer close(w.ended)
		err := w.readFrames(w.lores, int(w.cfg.LoresWidth), int(w.cfg.LoresHeight))
		if err != nil {
			w.log.Error(pkg+"low resolution stream ended", "error", err.Error())
		}
	}()
	go func() {
		defer w.wg.Done()
		err := h264.Lex(w.gate, w.hires)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
			w.log.Error(pkg+"encoder stream ended", "error", err.Error())
		}
	}()

	w.log.Info(pkg + "webcam started")
	return nil
}

// readFrames reads whole grey frames from r, keeping only the newest unread
// frame available to Capture.
func (w *Webcam) readFrames(r io.Reader, width, height int) error {
	for {
		f := device.Frame{Width: width, Height: height, Luma: make([]byte, width*height)}
		_, err := io.ReadFull(r, f.Luma)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		for {
			select {
			case w.frames <- f:
			default:
				select {
				case <-w.frames:
				default:
				}
				continue
			}
			break
		}
	}
}

// Capture returns the newest low resolution frame not yet returned, waiting up
// to the configured capture timeout for one to arrive.
func (w *Webcam) Capture() (device.Frame, error) {
	w.mu.Lock()
	frames, done, ended, running := w.frames, w.done, w.ended, w.isRunning
	w.mu.Unlock()
	if !running {
		return device.Frame{}, ErrNotRunning
	}

	timer := time.NewTimer(w.cfg.CaptureTimeout)
	defer timer.Stop()
	select {
	case f := <-frames:
		return f, nil
	case <-done:
		return device.Frame{}, ErrNotRunning
	case <-ended:
		return device.Frame{}, ErrNotRunning
	case <-timer.C:
		return device.Frame{}, ErrCaptureTimeout
	}
}

// StartEncoder creates the file at path and begins writing the H.264 stream to
// it from the next keyframe, with one timecode line per frame written to
// timecodes.
func (w *Webcam) StartEncoder(path string, timecodes io.Writer) error {
	if !w.IsRunning() {
		return ErrNotRunning
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("could not create video file: %w", err)
	}
	err = w.gate.open(f, timecodes)
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	w.log.Debug(pkg+"encoder started", "path", path)
	return nil
}

// StopEncoder stops writing the H.264 stream and closes the video file.
func (w *Webcam) StopEncoder() error {
	n, err := w.gate.close()
	w.log.Debug(pkg+"encoder stopped", "frames", n)
	return err
}

// SetGain sets the sensor gain using v4l2-ctl.
func (w *Webcam) SetGain(gain float64) error {
	ctl := "--set-ctrl=gain=" + strconv.Itoa(int(gain))
	out, err := exec.Command(v4l2ctlPath, "-d", w.cfg.InputPath, ctl).CombinedOutput()
	if err != nil {
		return fmt.Errorf("could not set gain: %w: %s", err, strings.TrimSpace(string(out)))
	}
	w.log.Info(pkg+"gain set", "gain", gain)
	return nil
}

// Stop will stop any running encoder, kill the ffmpeg process and close the
// output pipes.
func (w *Webcam) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isRunning {
		return nil
	}
	w.isRunning = false
	close(w.done)

	var errs device.MultiError
	if w.gate.active() {
		_, err := w.gate.close()
		if err != nil {
			errs = append(errs, err)
		}
	}
	if w.cmd == nil || w.cmd.Process == nil {
		return errors.New("ffmpeg process was never started")
	}
	err := w.cmd.Process.Kill()
	if err != nil {
		errs = append(errs, fmt.Errorf("could not kill ffmpeg process: %w", err))
	}
	w.hires.Close()
	w.wg.Wait()
	w.cmd.Wait()
	w.log.Info(pkg + "webcam stopped")

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// IsRunning is used to determine if the webcam is running. A webcam whose
// ffmpeg process has exited is not running.
func (w *Webcam) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isRunning {
		return false
	}
	select {
	case <-w.ended:
		return false
	default:
		return true
	}
}
