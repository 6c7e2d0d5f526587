/*
DESCRIPTION
  controller.go provides Controller, which turns activity signals into
  recordings: starting and stopping the encoder and timecode file together and
  handing each finished recording to the finalization queue.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ausocean/motioncam/finalize"
	"github.com/ausocean/motioncam/indicator"
	"github.com/ausocean/motioncam/motion"
	"github.com/ausocean/utils/logging"
)

// Controller errors. ErrStart is recoverable; ErrInvariant is not.
var (
	ErrStart     = errors.New("could not start recording")
	ErrInvariant = errors.New("signal not valid in current state")
)

// TimecodeHeader is the first line of every timecode file.
const TimecodeHeader = "# timecode format v2\n"

// nameFormat is the layout of recording names.
const nameFormat = "2006-01-02_15-04-05.000000"

// Encoder is the part of a camera driven by the Controller.
type Encoder interface {
	StartEncoder(path string, timecodes io.Writer) error
	StopEncoder() error
}

// Submitter accepts finished recordings.
type Submitter interface {
	Submit(finalize.Job)
}

// ctrlState is the state of a Controller.
type ctrlState int

const (
	idle ctrlState = iota
	recording
)

func (s ctrlState) String() string {
	if s == recording {
		return "Recording"
	}
	return "Idle"
}

// Controller is the recording state machine. It is not safe for concurrent
// use; OnSignal and Shutdown are called from the detection loop.
type Controller struct {
	log     logging.Logger
	enc     Encoder
	ind     indicator.Indicator
	q       Submitter
	tempDir string
	destDir string
	ext     string

	state    ctrlState
	job      finalize.Job
	tcFile   *os.File
	tc       *bufio.Writer
	lastName string
}

// NewController returns an idle Controller that writes intermediate files to
// tempDir and submits jobs for containers of type ext destined for destDir.
func NewController(enc Encoder, ind indicator.Indicator, q Submitter, tempDir, destDir, ext string, l logging.Logger) *Controller {
	if ind == nil {
		ind = indicator.Nop{}
	}
	return &Controller{
		log:     l,
		enc:     enc,
		ind:     ind,
		q:       q,
		tempDir: tempDir,
		destDir: destDir,
		ext:     ext,
	}
}

// Recording returns true while a recording is in progress.
func (c *Controller) Recording() bool { return c.state == recording }

// OnSignal acts on a detector signal observed at t. An error wrapping ErrStart
// means the recording could not be started and the controller remains idle.
// An error wrapping ErrInvariant means the signal could not have come from a
// correctly behaving detector. Other errors arise while stopping and do not
// prevent the recording from being submitted.
func (c *Controller) OnSignal(sig motion.Signal, t time.Time) error {
	switch c.state {
	case idle:
		switch sig {
		case motion.None:
			return nil
		case motion.ActivityStarted:
			err := c.start(t)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStart, err)
			}
			return nil
		}
	case recording:
		switch sig {
		case motion.None, motion.ActivityContinuing:
			return nil
		case motion.ActivityEnded:
			return c.stop()
		}
	}
	return fmt.Errorf("%w: %v while %v", ErrInvariant, sig, c.state)
}

// Shutdown stops any recording in progress exactly as ActivityEnded would.
func (c *Controller) Shutdown() error {
	if c.state != recording {
		return nil
	}
	c.log.Info(pkg + "stopping recording for shutdown")
	return c.stop()
}

// name returns a recording name for t that is not in use.
func (c *Controller) name(t time.Time) string {
	name := t.Format(nameFormat)
	if name != c.lastName && !c.inUse(name) {
		return name
	}
	for {
		n := name + "-" + uuid.New().String()[:8]
		if !c.inUse(n) {
			return n
		}
	}
}

func (c *Controller) inUse(name string) bool {
	j := finalize.NewJob(name, c.tempDir, c.destDir, c.ext)
	for _, p := range []string{j.VideoPath, j.TimecodePath, j.OutputPath(), j.DestPath()} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (c *Controller) start(t time.Time) error {
	name := c.name(t)
	j := finalize.NewJob(name, c.tempDir, c.destDir, c.ext)

	f, err := os.OpenFile(j.TimecodePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("could not create timecode file: %w", err)
	}
	tc := bufio.NewWriter(f)
	_, err = tc.WriteString(TimecodeHeader)
	if err != nil {
		f.Close()
		os.Remove(j.TimecodePath)
		return fmt.Errorf("could not write timecode header: %w", err)
	}

	err = c.enc.StartEncoder(j.VideoPath, tc)
	if err != nil {
		f.Close()
		os.Remove(j.TimecodePath)
		return fmt.Errorf("could not start encoder: %w", err)
	}

	c.job, c.tcFile, c.tc = j, f, tc
	c.lastName = name
	c.state = recording
	c.ind.SetRecording(true)
	c.log.Info(pkg+"recording started", "name", name)
	return nil
}

// stop stops the encoder and closes the timecode file, whatever the outcome
// of either, then submits the recording.
func (c *Controller) stop() error {
	var errs []error
	err := c.enc.StopEncoder()
	if err != nil {
		errs = append(errs, fmt.Errorf("could not stop encoder: %w", err))
	}
	err = c.tc.Flush()
	if err != nil {
		errs = append(errs, fmt.Errorf("could not flush timecodes: %w", err))
	}
	err = c.tcFile.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("could not close timecodes: %w", err))
	}
	c.tcFile, c.tc = nil, nil

	c.ind.SetRecording(false)
	c.q.Submit(c.job)
	c.state = idle
	c.log.Info(pkg+"recording stopped", "name", c.job.Name)
	return errors.Join(errs...)
}
