/*
DESCRIPTION
  move.go provides moving of finalized files, falling back to copying when the
  destination is on another filesystem.

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
	"io"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// moveFile renames src to dst. If they are on different filesystems the file
// is copied to a partial file beside dst, renamed into place and src removed.
// On failure src is left where it was.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var le *os.LinkError
	if !errors.As(err, &le) || !errors.Is(le.Err, syscall.EXDEV) {
		return err
	}

	part := dst + ".part"
	err = copyFile(src, part)
	if err != nil {
		os.Remove(part)
		return errors.Wrap(err, "could not copy across filesystems")
	}
	err = os.Rename(part, dst)
	if err != nil {
		os.Remove(part)
		return errors.Wrap(err, "could not rename copied file")
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return err
	}
	err = out.Sync()
	if err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
