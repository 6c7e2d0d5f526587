/*
DESCRIPTION
  job.go describes a completed recording awaiting finalization and the file
  layout of its intermediate and final artifacts.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package finalize provides the queue and worker that mux completed
// recordings into container files and move them to their destination.
package finalize

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Intermediate file extensions.
const (
	VideoExt    = ".video"
	TimecodeExt = ".timecodes"
)

// Job identifies one completed recording. A Job is immutable once created.
type Job struct {
	Name         string // Unique recording name.
	VideoPath    string // Elementary video stream.
	TimecodePath string // Timecode format v2 file.
	TempDir      string // Where the container is produced.
	DestDir      string // Where the container is moved to.
	Ext          string // Container extension without the dot.
}

// NewJob returns the Job for the recording called name, whose intermediate
// files live in tempDir.
func NewJob(name, tempDir, destDir, ext string) Job {
	return Job{
		Name:         name,
		VideoPath:    filepath.Join(tempDir, name+VideoExt),
		TimecodePath: filepath.Join(tempDir, name+TimecodeExt),
		TempDir:      tempDir,
		DestDir:      destDir,
		Ext:          ext,
	}
}

// OutputPath is the temporary location of the muxed container.
func (j Job) OutputPath() string { return filepath.Join(j.TempDir, j.Name+"."+j.Ext) }

// DestPath is the final location of the muxed container.
func (j Job) DestPath() string { return filepath.Join(j.DestDir, j.Name+"."+j.Ext) }

// Scan returns jobs for recordings left in tempDir that have both a video and
// a timecode file, ordered by name.
func Scan(tempDir, destDir, ext string) ([]Job, error) {
	matches, err := filepath.Glob(filepath.Join(tempDir, "*"+VideoExt))
	if err != nil {
		return nil, errors.Wrap(err, "could not scan temp directory")
	}
	sort.Strings(matches)

	var jobs []Job
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), VideoExt)
		j := NewJob(name, tempDir, destDir, ext)
		if _, err := os.Stat(j.TimecodePath); err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
