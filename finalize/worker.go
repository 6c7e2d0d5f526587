/*
DESCRIPTION
  worker.go provides Worker, which drains a Queue of completed recordings,
  muxing each into a container and moving it to its destination directory.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package finalize

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ausocean/utils/logging"
)

const pkg = "finalize: "

// Default worker parameters.
const (
	defaultPoll = time.Second
)

// Result records the outcome of each step of finalizing a Job. A nil field
// means the step succeeded; steps after a failed mux are not attempted and
// are left nil.
type Result struct {
	Mux             error
	RemoveVideo     error
	RemoveTimecodes error
	Move            error
}

// Ok returns true if every step succeeded.
func (r Result) Ok() bool {
	return r.Mux == nil && r.RemoveVideo == nil && r.RemoveTimecodes == nil && r.Move == nil
}

// Worker finalizes jobs from a Queue one at a time.
type Worker struct {
	q          *Queue
	mux        Muxer
	log        logging.Logger
	poll       time.Duration
	muxTimeout time.Duration

	// OnDone, if set, is called after each job is processed.
	OnDone func(Job, Result)
}

// NewWorker returns a Worker that takes jobs from q and muxes them with m.
// poll bounds each wait on an empty queue and muxTimeout bounds each mux; a
// zero muxTimeout means no bound.
func NewWorker(q *Queue, m Muxer, l logging.Logger, poll, muxTimeout time.Duration) *Worker {
	if poll <= 0 {
		poll = defaultPoll
	}
	return &Worker{q: q, mux: m, log: l, poll: poll, muxTimeout: muxTimeout}
}

// Run processes jobs until ctx is done and the queue is empty. Jobs submitted
// before ctx is done are therefore always attempted. Run does not return
// early on a failed job.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info(pkg + "worker started")
	for {
		if ctx.Err() != nil && w.q.Len() == 0 {
			w.log.Info(pkg + "worker stopped")
			return
		}
		j, ok := w.q.Next(w.poll)
		if !ok {
			continue
		}
		r := w.Process(j)
		if w.OnDone != nil {
			w.OnDone(j, r)
		}
	}
}

// Process finalizes j. Source files are removed only after a successful mux,
// and the container is only moved after a successful mux. A failed mux
// leaves the sources in place for a later retry.
func (w *Worker) Process(j Job) Result {
	var r Result
	w.log.Info(pkg+"finalizing recording", "name", j.Name)

	out := j.OutputPath()
	_, statErr := os.Stat(out)
	existed := statErr == nil

	ctx := context.Background()
	if w.muxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.muxTimeout)
		defer cancel()
	}

	r.Mux = w.mux.Mux(ctx, out, j.TimecodePath, j.VideoPath)
	if r.Mux != nil {
		w.log.Error(pkg+"could not mux recording", "name", j.Name, "error", r.Mux.Error())
		if !existed {
			err := os.Remove(out)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				w.log.Warning(pkg+"could not remove partial output", "path", out, "error", err.Error())
			}
		}
		return r
	}

	r.RemoveVideo = removeSource(j.VideoPath)
	if r.RemoveVideo != nil {
		w.log.Warning(pkg+"could not remove video source", "path", j.VideoPath, "error", r.RemoveVideo.Error())
	}
	r.RemoveTimecodes = removeSource(j.TimecodePath)
	if r.RemoveTimecodes != nil {
		w.log.Warning(pkg+"could not remove timecode source", "path", j.TimecodePath, "error", r.RemoveTimecodes.Error())
	}

	r.Move = moveFile(out, j.DestPath())
	if r.Move != nil {
		w.log.Error(pkg+"could not move recording", "from", out, "to", j.DestPath(), "error", r.Move.Error())
		return r
	}

	w.log.Info(pkg+"recording finalized", "path", j.DestPath())
	return r
}

// removeSource removes path, treating an already missing file as removed.
func removeSource(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
