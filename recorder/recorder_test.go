/*
DESCRIPTION
  recorder_test.go provides testing of the Recorder pipeline using a fake
  camera and muxer.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/motioncam/device"
	"github.com/ausocean/motioncam/finalize"
	"github.com/ausocean/motioncam/motion"
	"github.com/ausocean/motioncam/recorder/config"
	"github.com/ausocean/utils/logging"
)

var errNoFrame = errors.New("no frame")

// fakeCamera plays back a fixed sequence of frames. While the encoder is
// started each captured frame also produces one byte of video and one
// timecode line.
type fakeCamera struct {
	mu        sync.Mutex
	frames    []device.Frame
	i         int
	drained   chan struct{}
	running   bool
	failStart int // Number of StartEncoder calls to fail.

	starts, stops int
	video         *os.File
	tc            io.Writer
	gains         []float64
}

func newFakeCamera(vals ...byte) *fakeCamera {
	c := &fakeCamera{drained: make(chan struct{})}
	for _, v := range vals {
		c.frames = append(c.frames, device.Frame{Width: 2, Height: 2, Luma: bytes.Repeat([]byte{v}, 4)})
	}
	return c
}

func (c *fakeCamera) Name() string            { return "fake" }
func (c *fakeCamera) Set(config.Config) error { return nil }

func (c *fakeCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	return nil
}

func (c *fakeCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *fakeCamera) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeCamera) SetGain(g float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = append(c.gains, g)
	return nil
}

func (c *fakeCamera) Capture() (device.Frame, error) {
	c.mu.Lock()
	if c.i < len(c.frames) {
		f := c.frames[c.i]
		c.i++
		if c.video != nil {
			c.video.Write([]byte{f.Luma[0]})
			fmt.Fprintf(c.tc, "%d\n", c.i*33)
		}
		c.mu.Unlock()
		return f, nil
	}
	if c.i == len(c.frames) {
		close(c.drained)
		c.i++
	}
	c.mu.Unlock()
	time.Sleep(time.Millisecond)
	return device.Frame{}, errNoFrame
}

func (c *fakeCamera) StartEncoder(path string, tc io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video != nil {
		return errors.New("encoder already started")
	}
	if c.failStart > 0 {
		c.failStart--
		return errors.New("encoder unavailable")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	c.starts++
	c.video, c.tc = f, tc
	return nil
}

func (c *fakeCamera) StopEncoder() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video == nil {
		return errors.New("encoder not started")
	}
	c.stops++
	err := c.video.Close()
	c.video, c.tc = nil, nil
	return err
}

// copyMuxer writes the timecodes followed by the video to the output. It
// fails if the timecode file lacks its header.
type copyMuxer struct{}

func (copyMuxer) Mux(ctx context.Context, out, timecodes, video string) error {
	tc, err := os.ReadFile(timecodes)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(tc), TimecodeHeader) {
		return errors.New("missing timecode header")
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(tc, v...), 0o644)
}

type recordingLog struct {
	mu  sync.Mutex
	ons []bool
}

func (r *recordingLog) SetRecording(on bool) {
	r.mu.Lock()
	r.ons = append(r.ons, on)
	r.mu.Unlock()
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Logger:            (*logging.TestLogger)(t),
		LogLevel:          logging.Debug,
		MotionThreshold:   4,
		InactivityTimeout: 250 * time.Millisecond,
		LoresWidth:        2,
		LoresHeight:       2,
		TempDir:           t.TempDir(),
		OutputDir:         t.TempDir(),
		PollInterval:      10 * time.Millisecond,
		Gain:              16,
	}
}

// stepClock returns a clock that advances by step on each call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 5, 16, 7, 10, 50, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

// run starts a recorder over cam, waits for all frames to be consumed and
// stops it, returning the finalization results.
func run(t *testing.T, cfg config.Config, cam *fakeCamera, ind *recordingLog) (*Recorder, []finalize.Result) {
	t.Helper()
	r, err := New(cfg, cam, ind, copyMuxer{})
	if err != nil {
		t.Fatalf("could not create recorder: %v", err)
	}
	r.now = stepClock(100 * time.Millisecond)

	var mu sync.Mutex
	var results []finalize.Result
	r.OnFinalized(func(j finalize.Job, res finalize.Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	})

	err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("could not start recorder: %v", err)
	}
	select {
	case <-cam.drained:
	case err := <-r.Err():
		t.Fatalf("unexpected pipeline error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("frames not consumed")
	}
	r.Stop()
	return r, results
}

func TestRecorderRecordings(t *testing.T) {
	cfg := testConfig(t)

	// Two bouts of activity that end by timeout and a third cut short by
	// shutdown.
	cam := newFakeCamera(0, 0, 0, 3, 6, 6, 6, 6, 6, 9, 9, 9, 9, 9, 12)
	ind := &recordingLog{}
	r, results := run(t, cfg, cam, ind)

	if cam.starts != 3 || cam.stops != 3 {
		t.Errorf("did not get expected encoder starts and stops, got: %d/%d, want: 3/3", cam.starts, cam.stops)
	}
	if !cmp.Equal(ind.ons, []bool{true, false, true, false, true, false}) {
		t.Errorf("unexpected indicator calls: %v", ind.ons)
	}
	if len(results) != 3 {
		t.Fatalf("did not get expected number of finalizations, got: %d, want: 3", len(results))
	}
	for i, res := range results {
		if !res.Ok() {
			t.Errorf("finalization %d failed: %+v", i, res)
		}
	}

	out, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*.mkv"))
	if err != nil || len(out) != 3 {
		t.Errorf("did not get expected outputs, got: %v, err: %v", out, err)
	}
	left, _ := os.ReadDir(cfg.TempDir)
	if len(left) != 0 {
		t.Errorf("intermediate files left behind: %v", left)
	}
	if !cmp.Equal(cam.gains, []float64{16}) {
		t.Errorf("unexpected gain calls: %v", cam.gains)
	}
	if r.Running() {
		t.Error("recorder still running after stop")
	}
}

func TestRecorderStartFailureRearms(t *testing.T) {
	cfg := testConfig(t)
	cam := newFakeCamera(0, 0, 0, 3, 6, 6, 6, 6)
	cam.failStart = 1
	ind := &recordingLog{}
	_, results := run(t, cfg, cam, ind)

	if cam.starts != 1 || cam.stops != 1 {
		t.Errorf("did not get expected encoder starts and stops, got: %d/%d, want: 1/1", cam.starts, cam.stops)
	}
	if len(results) != 1 || !results[0].Ok() {
		t.Errorf("unexpected results: %+v", results)
	}
	left, _ := os.ReadDir(cfg.TempDir)
	if len(left) != 0 {
		t.Errorf("failed attempt left files behind: %v", left)
	}
}

func TestRecorderFrameSizeFatal(t *testing.T) {
	cfg := testConfig(t)
	cam := newFakeCamera(0, 0)
	cam.frames = append(cam.frames, device.Frame{Width: 3, Height: 2, Luma: make([]byte, 6)})

	r, err := New(cfg, cam, nil, copyMuxer{})
	if err != nil {
		t.Fatalf("could not create recorder: %v", err)
	}
	err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("could not start recorder: %v", err)
	}
	defer r.Stop()

	select {
	case err := <-r.Err():
		if !errors.Is(err, motion.ErrFrameSize) {
			t.Errorf("did not get expected error, got: %v, want: %v", err, motion.ErrFrameSize)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no pipeline error")
	}
}

func TestRecorderRecover(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recover = true
	j := finalize.NewJob("leftover", cfg.TempDir, cfg.OutputDir, "mkv")
	os.WriteFile(j.VideoPath, []byte("v"), 0o644)
	os.WriteFile(j.TimecodePath, []byte(TimecodeHeader+"0\n"), 0o644)

	_, results := run(t, cfg, newFakeCamera(0, 0), &recordingLog{})
	if len(results) != 1 || !results[0].Ok() {
		t.Fatalf("unexpected results: %+v", results)
	}
	if _, err := os.Stat(j.DestPath()); err != nil {
		t.Errorf("recovered recording not finalized: %v", err)
	}
}

func TestRecorderUpdate(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, newFakeCamera(), nil, copyMuxer{})
	if err != nil {
		t.Fatalf("could not create recorder: %v", err)
	}

	err = r.Update(map[string]string{
		config.KeyMotionThreshold:   "12.5",
		config.KeyInactivityTimeout: "3s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := r.Config()
	if got.MotionThreshold != 12.5 || got.InactivityTimeout != 3*time.Second {
		t.Errorf("update not applied: threshold %v, timeout %v", got.MotionThreshold, got.InactivityTimeout)
	}

	err = r.Update(map[string]string{config.KeyMotionThreshold: "lots"})
	if err == nil {
		t.Error("expected error for bad threshold")
	}
	if r.Config().MotionThreshold != 12.5 {
		t.Errorf("bad update changed threshold to %v", r.Config().MotionThreshold)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoresWidth = 0
	_, err := New(cfg, newFakeCamera(), nil, copyMuxer{})
	if err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestRecorderUpdateAppliedOnStart(t *testing.T) {
	cfg := testConfig(t)
	cam := newFakeCamera(0, 0, 0, 3, 6, 6, 6, 6)
	r, err := New(cfg, cam, nil, copyMuxer{})
	if err != nil {
		t.Fatalf("could not create recorder: %v", err)
	}
	r.now = stepClock(100 * time.Millisecond)

	out := t.TempDir()
	err = r.Update(map[string]string{
		config.KeyContainerExt: "mka",
		config.KeyOutputDir:    out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var results []finalize.Result
	r.OnFinalized(func(j finalize.Job, res finalize.Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	})

	err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("could not start recorder: %v", err)
	}
	select {
	case <-cam.drained:
	case <-time.After(10 * time.Second):
		t.Fatal("frames not consumed")
	}
	r.Stop()

	if len(results) != 1 || !results[0].Ok() {
		t.Fatalf("unexpected results: %+v", results)
	}
	got, err := filepath.Glob(filepath.Join(out, "*.mka"))
	if err != nil || len(got) != 1 {
		t.Errorf("did not get expected outputs, got: %v, err: %v", got, err)
	}
	old, _ := filepath.Glob(filepath.Join(cfg.OutputDir, "*"))
	if len(old) != 0 {
		t.Errorf("recording written to old output directory: %v", old)
	}
}
