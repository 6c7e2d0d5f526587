/*
DESCRIPTION
  mkvmerge.go provides a Muxer that combines an H.264 elementary stream and
  its timecode file into a Matroska container using the mkvmerge tool.

AUTHORS
  Ella Pietraroia <ella@ausocean.org>
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
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/ausocean/utils/logging"
)

// ErrMissingInput is returned when a muxer input file does not exist.
var ErrMissingInput = errors.New("muxer input missing")

// Muxer combines a video stream and its timecodes into a container file at
// out. An error means no usable output was produced.
type Muxer interface {
	Mux(ctx context.Context, out, timecodes, video string) error
}

// MKVMerge is a Muxer that runs mkvmerge.
type MKVMerge struct {
	bin string
	log logging.Logger
}

// NewMKVMerge returns an MKVMerge that runs the executable bin.
func NewMKVMerge(bin string, l logging.Logger) *MKVMerge {
	return &MKVMerge{bin: bin, log: l}
}

// Args returns the mkvmerge arguments for muxing video and timecodes into out.
func (m *MKVMerge) Args(out, timecodes, video string) []string {
	return []string{"-o", out, "--timecodes", "0:" + timecodes, video}
}

// Mux runs mkvmerge. Any non-zero exit status is treated as failure. The
// process is killed if ctx is done before it exits.
func (m *MKVMerge) Mux(ctx context.Context, out, timecodes, video string) error {
	for _, p := range []string{video, timecodes} {
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(ErrMissingInput, "%s: %v", p, err)
		}
	}

	args := m.Args(out, timecodes, video)
	m.log.Debug(pkg+"running muxer", "bin", m.bin, "args", strings.Join(args, " "))

	var outBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, m.bin, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &outBuf

	err := cmd.Run()
	if outBuf.Len() != 0 {
		m.log.Debug(pkg+"muxer output", "output", outBuf.String())
	}
	if err != nil {
		return errors.Wrapf(err, "%s failed: %s", m.bin, lastLine(outBuf.String()))
	}
	return nil
}

// lastLine returns the last non-empty line of s, which is where mkvmerge
// reports the reason it failed.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
