/*
DESCRIPTION
  detector.go provides a frame difference motion detector. The mean squared
  luminance difference between consecutive low resolution frames is compared
  against a threshold, and a small state machine turns that noisy score into
  stable activity start, continue and end signals.

AUTHORS
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package motion provides activity detection on low resolution luminance
// frames.
package motion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/ausocean/motioncam/device"
	"github.com/ausocean/motioncam/recorder/config"
	"github.com/ausocean/utils/logging"
)

const pkg = "motion: "

// ErrFrameSize is returned when a frame's dimensions differ from those the
// detector was configured with. It indicates a configuration fault.
var ErrFrameSize = errors.New("frame size does not match configuration")

// Signal is emitted by the detector for each observed frame.
type Signal int

const (
	None Signal = iota
	ActivityStarted
	ActivityContinuing
	ActivityEnded
)

func (s Signal) String() string {
	switch s {
	case None:
		return "None"
	case ActivityStarted:
		return "ActivityStarted"
	case ActivityContinuing:
		return "ActivityContinuing"
	case ActivityEnded:
		return "ActivityEnded"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// State is the detector's stabilisation and activity state.
type State int

const (
	// Unstable is the initial state; no score below the threshold has been
	// seen yet, so triggering is not armed.
	Unstable State = iota

	// Stable means triggering is armed.
	Stable

	// Active means activity has started and not yet ended.
	Active
)

func (s State) String() string {
	switch s {
	case Unstable:
		return "Unstable"
	case Stable:
		return "Stable"
	case Active:
		return "Active"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Detector turns consecutive frames into activity signals. Observe must be
// called from a single goroutine; the threshold and timeout may be changed
// concurrently.
type Detector struct {
	log    logging.Logger
	width  int
	height int

	mu      sync.Mutex
	thresh  float64
	timeout time.Duration

	state        State
	prev, cur    []float64 // Luminance of previous and current frames.
	diff         []float64 // Scratch space for scoring.
	havePrev     bool
	lastActivity time.Time

	logEvery uint // Log the score every logEvery comparisons.
	n        uint
}

// New returns a new Detector configured with the MotionThreshold,
// InactivityTimeout, LoresWidth, LoresHeight and ScoreLogInterval fields of c.
func New(c config.Config) *Detector {
	n := int(c.LoresWidth * c.LoresHeight)
	return &Detector{
		log:      c.Logger,
		width:    int(c.LoresWidth),
		height:   int(c.LoresHeight),
		thresh:   c.MotionThreshold,
		timeout:  c.InactivityTimeout,
		prev:     make([]float64, n),
		cur:      make([]float64, n),
		diff:     make([]float64, n),
		logEvery: c.ScoreLogInterval,
	}
}

// Observe compares f with the previously observed frame at time now and
// returns the resulting signal. The first frame only primes the detector.
func (d *Detector) Observe(f device.Frame, now time.Time) (Signal, error) {
	if f.Width != d.width || f.Height != d.height || len(f.Luma) != len(d.cur) {
		return None, fmt.Errorf("%w: got %dx%d (%d samples), want %dx%d",
			ErrFrameSize, f.Width, f.Height, len(f.Luma), d.width, d.height)
	}

	for i, v := range f.Luma {
		d.cur[i] = float64(v)
	}

	sig := None
	if d.havePrev {
		score := meanSquare(d.diff, d.cur, d.prev)
		d.n++
		if d.logEvery != 0 && d.n%d.logEvery == 0 {
			d.log.Debug(pkg+"activity score", "score", score, "state", d.state.String())
		}
		sig = d.step(score, now)
	}

	// The current frame becomes the previous frame unconditionally.
	d.prev, d.cur = d.cur, d.prev
	d.havePrev = true
	return sig, nil
}

// step advances the state machine with a score observed at now.
func (d *Detector) step(score float64, now time.Time) Signal {
	d.mu.Lock()
	thresh, timeout := d.thresh, d.timeout
	d.mu.Unlock()

	switch d.state {
	case Unstable:
		if score < thresh {
			d.state = Stable
			d.log.Info(pkg+"stabilised", "score", score)
		}
	case Stable:
		if score >= thresh {
			d.state = Active
			d.lastActivity = now
			return ActivityStarted
		}
	case Active:
		if score >= thresh {
			d.lastActivity = now
			return ActivityContinuing
		}
		if now.Sub(d.lastActivity) > timeout {
			d.state = Stable
			return ActivityEnded
		}
	}
	return None
}

// Rearm returns an Active detector to Stable without emitting a signal, so
// that the next score at or above the threshold starts activity afresh. It is
// used when acting on ActivityStarted failed.
func (d *Detector) Rearm() {
	if d.state == Active {
		d.state = Stable
	}
}

// State returns the detector's current state.
func (d *Detector) State() State { return d.state }

// SetThreshold changes the activity threshold.
func (d *Detector) SetThreshold(t float64) {
	d.mu.Lock()
	d.thresh = t
	d.mu.Unlock()
}

// SetTimeout changes the inactivity timeout.
func (d *Detector) SetTimeout(t time.Duration) {
	d.mu.Lock()
	d.timeout = t
	d.mu.Unlock()
}

// Score returns the mean squared difference of a and b, which must have equal
// length. The sum of squares is accumulated directly so that integer valued
// samples give an exact result.
func Score(a, b []float64) float64 {
	return meanSquare(make([]float64, len(a)), a, b)
}

// meanSquare is Score using diff, of the same length as a, as scratch space.
func meanSquare(diff, a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	floats.SubTo(diff, a, b)
	return floats.Dot(diff, diff) / float64(len(a))
}
