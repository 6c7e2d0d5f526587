/*
DESCRIPTION
  recorder.go provides Recorder, which ties together a camera, motion
  detector, recording controller and finalization worker into a motion
  triggered recording pipeline.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package recorder provides a motion triggered video recorder.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/motioncam/device"
	"github.com/ausocean/motioncam/finalize"
	"github.com/ausocean/motioncam/indicator"
	"github.com/ausocean/motioncam/motion"
	"github.com/ausocean/motioncam/recorder/config"
	"github.com/ausocean/utils/logging"
)

// Used to indicate package in logging.
const pkg = "recorder: "

// Recorder provides methods to start and stop a recording session and to
// change its configuration while running.
type Recorder struct {
	// mu guards cfg and running.
	mu  sync.Mutex
	cfg config.Config

	log logging.Logger

	// cam provides low resolution frames and the encoder.
	cam device.Camera

	ind indicator.Indicator
	mux finalize.Muxer

	// det, ctrl and worker are rebuilt from cfg on each Start.
	det    *motion.Detector
	ctrl   *Controller
	q      *finalize.Queue
	worker *finalize.Worker
	onDone func(finalize.Job, finalize.Result)

	// running is used to keep track of the recorder's running state between
	// methods.
	running bool

	// stopDetect and stopWorker are called in order by Stop.
	stopDetect context.CancelFunc
	stopWorker context.CancelFunc

	detectWG sync.WaitGroup
	workerWG sync.WaitGroup

	// err carries fatal pipeline errors.
	err chan error

	// now is the clock used for detection and recording names.
	now func() time.Time
}

// New returns a new Recorder with the given configuration. The config is
// validated and optional fields defaulted. A nil ind disables indication.
func New(c config.Config, cam device.Camera, ind indicator.Indicator, mux finalize.Muxer) (*Recorder, error) {
	err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("could not validate config: %w", err)
	}

	r := &Recorder{
		cfg: c,
		log: c.Logger,
		cam: cam,
		ind: ind,
		mux: mux,
		q:   finalize.NewQueue(),
		err: make(chan error, 1),
		now: time.Now,
	}
	r.build()
	return r, nil
}

// build creates the detector, controller and worker from the current config.
// The queue is kept so that jobs outlive a restart.
func (r *Recorder) build() {
	c := r.cfg
	r.det = motion.New(c)
	r.ctrl = NewController(r.cam, r.ind, r.q, c.TempDir, c.OutputDir, c.ContainerExt, c.Logger)
	r.worker = finalize.NewWorker(r.q, r.mux, c.Logger, c.PollInterval, c.MuxTimeout)
	r.worker.OnDone = r.onDone
}

// Config returns a copy of the recorder's current config.
func (r *Recorder) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Err returns a channel on which fatal pipeline errors are delivered. After
// such an error the detection loop has stopped; Stop must still be called.
func (r *Recorder) Err() <-chan error { return r.err }

// OnFinalized sets a function called after each recording is finalized. It
// must be called before Start.
func (r *Recorder) OnFinalized(fn func(finalize.Job, finalize.Result)) {
	r.onDone = fn
	r.worker.OnDone = fn
}

// Start configures and starts the camera, queues any recovered recordings and
// starts the detection loop and finalization worker. Cancelling ctx stops
// detection but not finalization; Stop must be called to release everything.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.cfg.Logger.Warning(pkg + "start called, but recorder already running")
		return nil
	}
	r.build()

	err := r.cam.Set(r.cfg)
	if err != nil {
		var me device.MultiError
		if !errors.As(err, &me) {
			return fmt.Errorf("could not set camera: %w", err)
		}
		r.cfg.Logger.Warning(pkg+"camera config defaulted", "errors", me.Error())
	}

	r.cfg.Logger.Debug(pkg + "starting camera")
	err = r.cam.Start()
	if err != nil {
		return fmt.Errorf("could not start camera: %w", err)
	}
	r.cfg.Logger.Info(pkg+"camera started", "camera", r.cam.Name())

	err = r.cam.SetGain(r.cfg.Gain)
	if err != nil {
		r.cfg.Logger.Warning(pkg+"could not set gain", "error", err.Error())
	}

	if r.cfg.Recover {
		r.recover()
	}

	wctx, wcancel := context.WithCancel(context.Background())
	r.stopWorker = wcancel
	r.workerWG.Add(1)
	go func() {
		defer r.workerWG.Done()
		r.worker.Run(wctx)
	}()

	dctx, dcancel := context.WithCancel(ctx)
	r.stopDetect = dcancel
	r.detectWG.Add(1)
	go r.detect(dctx)

	r.running = true
	return nil
}

// recover queues recordings left in the temporary directory by a previous
// run.
func (r *Recorder) recover() {
	jobs, err := finalize.Scan(r.cfg.TempDir, r.cfg.OutputDir, r.cfg.ContainerExt)
	if err != nil {
		r.cfg.Logger.Warning(pkg+"could not scan for unfinalized recordings", "error", err.Error())
		return
	}
	for _, j := range jobs {
		r.cfg.Logger.Info(pkg+"recovering recording", "name", j.Name)
		r.q.Submit(j)
	}
}

// Stop stops detection, finishing any recording in progress, then waits for
// the finalization worker to drain the queue before stopping the camera.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		r.cfg.Logger.Warning(pkg + "stop called but recorder isn't running")
		return
	}

	r.cfg.Logger.Debug(pkg + "stopping detection")
	r.stopDetect()
	r.detectWG.Wait()
	r.cfg.Logger.Info(pkg+"detection stopped", "queued", r.q.Len())

	r.cfg.Logger.Debug(pkg + "waiting for finalization")
	r.stopWorker()
	r.workerWG.Wait()
	r.cfg.Logger.Info(pkg + "finalization finished")

	err := r.cam.Stop()
	if err != nil {
		r.cfg.Logger.Error(pkg+"could not stop camera", "error", err.Error())
	} else {
		r.cfg.Logger.Info(pkg + "camera stopped")
	}

	r.running = false
}

// Running returns true if the recorder has been started and not stopped.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Update takes a map of variables and their values and applies those that may
// change while running: the motion threshold, inactivity timeout and gain.
// Other variables are stored and take effect on the next Start, which rebuilds
// the detector, controller and worker from the stored config.
func (r *Recorder) Update(vars map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.Logger.Debug(pkg+"checking vars", "vars", vars)
	c := r.cfg
	c.Update(vars)
	err := c.Validate()
	if err != nil {
		return fmt.Errorf("invalid config update: %w", err)
	}
	r.cfg = c

	if _, ok := vars[config.KeyMotionThreshold]; ok {
		r.det.SetThreshold(c.MotionThreshold)
		r.cfg.Logger.Info(pkg+"motion threshold changed", "threshold", c.MotionThreshold)
	}
	if _, ok := vars[config.KeyInactivityTimeout]; ok {
		r.det.SetTimeout(c.InactivityTimeout)
		r.cfg.Logger.Info(pkg+"inactivity timeout changed", "timeout", c.InactivityTimeout.String())
	}
	if _, ok := vars[config.KeyGain]; ok && r.running {
		err = r.cam.SetGain(c.Gain)
		if err != nil {
			return fmt.Errorf("could not set gain: %w", err)
		}
	}
	return nil
}

// detect is the detection loop. It captures frames, feeds them to the
// detector and passes signals to the controller until ctx is cancelled or a
// fatal error occurs, then stops any recording in progress.
func (r *Recorder) detect(ctx context.Context) {
	defer r.detectWG.Done()
	l := r.log
	defer func() {
		err := r.ctrl.Shutdown()
		if err != nil {
			l.Error(pkg+"error stopping recording", "error", err.Error())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := r.cam.Capture()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !r.cam.IsRunning() {
				r.fail(fmt.Errorf("camera stopped: %w", err))
				return
			}
			l.Warning(pkg+"could not capture frame", "error", err.Error())
			continue
		}

		now := r.now()
		sig, err := r.det.Observe(f, now)
		if err != nil {
			r.fail(err)
			return
		}
		if sig != motion.None {
			l.Debug(pkg+"activity signal", "signal", sig.String())
		}

		err = r.ctrl.OnSignal(sig, now)
		switch {
		case err == nil:
		case errors.Is(err, ErrStart):
			l.Error(pkg+"recording attempt failed", "error", err.Error())
			r.det.Rearm()
		case errors.Is(err, ErrInvariant):
			r.fail(err)
			return
		default:
			l.Error(pkg+"error stopping recording", "error", err.Error())
		}
	}
}

// fail reports a fatal error without blocking.
func (r *Recorder) fail(err error) {
	r.log.Error(pkg+"fatal pipeline error", "error", err.Error())
	select {
	case r.err <- err:
	default:
	}
}
