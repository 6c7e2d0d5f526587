/*
DESCRIPTION
  indicator.go provides Indicator, an interface for signalling that a
  recording is in progress, and simple implementations of it.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package indicator provides ways of signalling that a recording is in
// progress.
package indicator

// Used to indicate package in logging.
const pkg = "indicator: "

// Indicator is notified when recording starts and stops. SetRecording must not
// block for long; failures are logged by the implementation.
type Indicator interface {
	SetRecording(on bool)
}

// Nop is an Indicator that does nothing.
type Nop struct{}

// SetRecording implements Indicator.
func (Nop) SetRecording(bool) {}

// Multi is an Indicator that notifies each of its members in order.
type Multi []Indicator

// SetRecording implements Indicator.
func (m Multi) SetRecording(on bool) {
	for _, i := range m {
		i.SetRecording(on)
	}
}
