/*
DESCRIPTION
  gate.go provides a writer that passes H.264 access units to a video file
  while a recording is in progress, starting at the first keyframe, and
  records a presentation timecode for each one.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package webcam

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ausocean/motioncam/codec/h264"
	"github.com/ausocean/utils/logging"
)

// gate receives every access unit of the encoder stream. Units are discarded
// unless the gate is open.
type gate struct {
	mu     sync.Mutex
	log    logging.Logger
	now    func() time.Time
	video  io.WriteCloser
	tc     io.Writer
	keyed  bool
	first  time.Time
	frames int
	err    error
}

func newGate(l logging.Logger) *gate {
	return &gate{log: l, now: time.Now}
}

// open directs subsequent access units to video, beginning at the next
// keyframe.
func (g *gate) open(video io.WriteCloser, tc io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.video != nil {
		return ErrEncoderRunning
	}
	g.video = video
	g.tc = tc
	g.keyed = false
	g.frames = 0
	g.err = nil
	return nil
}

func (g *gate) active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.video != nil
}

// close closes the video file and returns the number of frames written along
// with the first write error encountered, if any. The timecode writer is not
// touched after close returns.
func (g *gate) close() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.video == nil {
		return 0, ErrNoEncoder
	}
	err := g.video.Close()
	g.video = nil
	g.tc = nil
	if g.err != nil {
		err = errors.Join(g.err, err)
	}
	return g.frames, err
}

// Write implements io.Writer for h264.Lex. Each call holds one access unit.
// Write never fails so that the encoder stream keeps being drained; errors are
// reported by close.
func (g *gate) Write(au []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.video == nil || g.err != nil {
		return len(au), nil
	}
	now := g.now()
	if !g.keyed {
		if !h264.IsKeyframe(au) {
			return len(au), nil
		}
		g.keyed = true
		g.first = now
		g.log.Debug(pkg+"recording from keyframe", "nalTypes", fmt.Sprint(h264.NALTypes(au)))
	}

	_, err := g.video.Write(au)
	if err != nil {
		g.fail(fmt.Errorf("could not write video: %w", err))
		return len(au), nil
	}
	ms := float64(now.Sub(g.first)) / float64(time.Millisecond)
	_, err = fmt.Fprintf(g.tc, "%.3f\n", ms)
	if err != nil {
		g.fail(fmt.Errorf("could not write timecode: %w", err))
		return len(au), nil
	}
	g.frames++
	return len(au), nil
}

func (g *gate) fail(err error) {
	g.err = err
	g.log.Error(pkg+"recording write failed", "error", err.Error())
}
