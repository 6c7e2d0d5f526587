/*
DESCRIPTION
  worker_test.go provides testing for the finalization Worker.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/utils/logging"
)

// fakeMuxer writes the concatenation of its inputs to the output, or fails
// for names in fail.
type fakeMuxer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (m *fakeMuxer) Mux(ctx context.Context, out, timecodes, video string) error {
	m.mu.Lock()
	m.calls = append(m.calls, filepath.Base(out))
	m.mu.Unlock()

	name := filepath.Base(out)
	name = name[:len(name)-len(filepath.Ext(name))]
	if m.fail[name] {
		os.WriteFile(out, []byte("partial"), 0o644)
		return errors.New("mux failed")
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	tc, err := os.ReadFile(timecodes)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(tc, v...), 0o644)
}

func (m *fakeMuxer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// writeSources creates the intermediate files for a job.
func writeSources(t *testing.T, j Job) {
	t.Helper()
	err := os.WriteFile(j.VideoPath, []byte("video"), 0o644)
	if err != nil {
		t.Fatalf("could not write video: %v", err)
	}
	err = os.WriteFile(j.TimecodePath, []byte("# timecode format v2\n"), 0o644)
	if err != nil {
		t.Fatalf("could not write timecodes: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWorkerFailureThenSuccess(t *testing.T) {
	tmp, dst := t.TempDir(), t.TempDir()
	a := NewJob("A", tmp, dst, "mkv")
	b := NewJob("B", tmp, dst, "mkv")
	writeSources(t, a)
	writeSources(t, b)

	m := &fakeMuxer{fail: map[string]bool{"A": true}}
	q := NewQueue()
	w := NewWorker(q, m, (*logging.TestLogger)(t), 10*time.Millisecond, 0)

	var mu sync.Mutex
	results := make(map[string]Result)
	w.OnDone = func(j Job, r Result) {
		mu.Lock()
		results[j.Name] = r
		mu.Unlock()
	}

	q.Submit(a)
	q.Submit(b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	if !cmp.Equal(m.Calls(), []string{"A.mkv", "B.mkv"}) {
		t.Errorf("unexpected mux calls: %v", m.Calls())
	}
	if results["A"].Mux == nil {
		t.Error("expected mux error for A")
	}
	if !results["B"].Ok() {
		t.Errorf("expected B to succeed, got: %+v", results["B"])
	}

	// A's sources are preserved and its partial output removed.
	for _, p := range []string{a.VideoPath, a.TimecodePath} {
		if !exists(p) {
			t.Errorf("source removed after failed mux: %s", p)
		}
	}
	if exists(a.OutputPath()) || exists(a.DestPath()) {
		t.Error("failed output left behind")
	}

	// B is cleaned up and moved.
	for _, p := range []string{b.VideoPath, b.TimecodePath, b.OutputPath()} {
		if exists(p) {
			t.Errorf("intermediate not removed: %s", p)
		}
	}
	got, err := os.ReadFile(b.DestPath())
	if err != nil {
		t.Fatalf("could not read destination: %v", err)
	}
	if string(got) != "# timecode format v2\nvideo" {
		t.Errorf("unexpected destination contents: %q", got)
	}
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	const n = 20
	tmp, dst := t.TempDir(), t.TempDir()
	m := &fakeMuxer{}
	q := NewQueue()
	w := NewWorker(q, m, (*logging.TestLogger)(t), 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < n; i++ {
		j := NewJob(fmt.Sprintf("rec%02d", i), tmp, dst, "mkv")
		writeSources(t, j)
		q.Submit(j)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}

	if len(m.Calls()) != n {
		t.Errorf("did not get expected number of attempts, got: %d, want: %d", len(m.Calls()), n)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatalf("could not read destination: %v", err)
	}
	if len(entries) != n {
		t.Errorf("did not get expected number of outputs, got: %d, want: %d", len(entries), n)
	}
}

func TestWorkerMissingSources(t *testing.T) {
	tmp, dst := t.TempDir(), t.TempDir()
	j := NewJob("gone", tmp, dst, "mkv")
	w := NewWorker(NewQueue(), &fakeMuxer{}, (*logging.TestLogger)(t), 0, 0)

	r := w.Process(j)
	if r.Mux == nil {
		t.Fatal("expected mux error for missing sources")
	}
	if exists(j.DestPath()) {
		t.Error("destination created for missing sources")
	}

	// A second attempt behaves the same way.
	r = w.Process(j)
	if r.Mux == nil {
		t.Fatal("expected mux error on retry")
	}
}

func TestWorkerKeepsExistingOutput(t *testing.T) {
	tmp, dst := t.TempDir(), t.TempDir()
	j := NewJob("A", tmp, dst, "mkv")
	writeSources(t, j)
	err := os.WriteFile(j.OutputPath(), []byte("earlier"), 0o644)
	if err != nil {
		t.Fatalf("could not write output: %v", err)
	}

	w := NewWorker(NewQueue(), &fakeMuxer{fail: map[string]bool{"A": true}}, (*logging.TestLogger)(t), 0, 0)
	r := w.Process(j)
	if r.Mux == nil {
		t.Fatal("expected mux error")
	}
	if !exists(j.OutputPath()) {
		t.Error("pre-existing output removed")
	}
}

func TestWorkerMoveFailure(t *testing.T) {
	tmp := t.TempDir()
	dst := filepath.Join(t.TempDir(), "missing")
	j := NewJob("A", tmp, dst, "mkv")
	writeSources(t, j)

	w := NewWorker(NewQueue(), &fakeMuxer{}, (*logging.TestLogger)(t), 0, 0)
	r := w.Process(j)
	if r.Mux != nil {
		t.Fatalf("unexpected mux error: %v", r.Mux)
	}
	if r.Move == nil {
		t.Fatal("expected move error")
	}
	if !exists(j.OutputPath()) {
		t.Error("container lost after failed move")
	}
}

func TestScan(t *testing.T) {
	tmp, dst := t.TempDir(), t.TempDir()
	for _, name := range []string{"b", "a"} {
		writeSources(t, NewJob(name, tmp, dst, "mkv"))
	}
	// A video without timecodes is not a recoverable job.
	err := os.WriteFile(filepath.Join(tmp, "c"+VideoExt), nil, 0o644)
	if err != nil {
		t.Fatalf("could not write video: %v", err)
	}

	jobs, err := Scan(tmp, dst, "mkv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Job{NewJob("a", tmp, dst, "mkv"), NewJob("b", tmp, dst, "mkv")}
	if !cmp.Equal(jobs, want) {
		t.Errorf("did not get expected jobs\n%s", cmp.Diff(want, jobs))
	}
}

// outputMuxer writes a fixed output without reading its inputs.
type outputMuxer struct{}

func (outputMuxer) Mux(ctx context.Context, out, timecodes, video string) error {
	return os.WriteFile(out, []byte("container"), 0o644)
}

func TestWorkerRemovalFailureContinues(t *testing.T) {
	tmp, dst := t.TempDir(), t.TempDir()
	j := NewJob("A", tmp, dst, "mkv")

	// A non-empty directory in place of the video cannot be removed.
	err := os.MkdirAll(filepath.Join(j.VideoPath, "sub"), 0o755)
	if err != nil {
		t.Fatalf("could not create directory: %v", err)
	}
	err = os.WriteFile(j.TimecodePath, []byte("# timecode format v2\n"), 0o644)
	if err != nil {
		t.Fatalf("could not write timecodes: %v", err)
	}

	w := NewWorker(NewQueue(), outputMuxer{}, (*logging.TestLogger)(t), 0, 0)
	r := w.Process(j)
	if r.Mux != nil {
		t.Fatalf("unexpected mux error: %v", r.Mux)
	}
	if r.RemoveVideo == nil {
		t.Error("expected video removal error")
	}
	if r.RemoveTimecodes != nil {
		t.Errorf("unexpected timecode removal error: %v", r.RemoveTimecodes)
	}
	if r.Move != nil {
		t.Errorf("unexpected move error: %v", r.Move)
	}
	if exists(j.TimecodePath) {
		t.Error("timecodes not removed")
	}
	got, err := os.ReadFile(j.DestPath())
	if err != nil || string(got) != "container" {
		t.Errorf("container not moved, got: %q, err: %v", got, err)
	}
}
