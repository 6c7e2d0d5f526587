/*
DESCRIPTION
  led.go provides an Indicator that drives a GPIO pin high while recording.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package indicator

import (
	"fmt"

	"github.com/kidoman/embd"

	"github.com/ausocean/utils/logging"
)

// pin is the part of embd.DigitalPin used by LED.
type pin interface {
	Write(val int) error
	Close() error
}

// LED is an Indicator that drives a GPIO pin. The embd host driver must be
// registered by the caller, e.g. by importing github.com/kidoman/embd/host/rpi.
type LED struct {
	pin pin
	log logging.Logger
}

// NewLED initialises GPIO and returns an LED on the pin identified by key,
// e.g. "GPIO_17" or 17. The pin is driven low.
func NewLED(key interface{}, l logging.Logger) (*LED, error) {
	err := embd.InitGPIO()
	if err != nil {
		return nil, fmt.Errorf("could not init GPIO: %w", err)
	}
	p, err := embd.NewDigitalPin(key)
	if err != nil {
		embd.CloseGPIO()
		return nil, fmt.Errorf("could not open pin %v: %w", key, err)
	}
	err = p.SetDirection(embd.Out)
	if err != nil {
		p.Close()
		embd.CloseGPIO()
		return nil, fmt.Errorf("could not set pin direction: %w", err)
	}
	led := &LED{pin: p, log: l}
	led.SetRecording(false)
	return led, nil
}

// SetRecording implements Indicator.
func (led *LED) SetRecording(on bool) {
	v := embd.Low
	if on {
		v = embd.High
	}
	err := led.pin.Write(v)
	if err != nil {
		led.log.Warning(pkg+"could not write LED pin", "on", on, "error", err.Error())
	}
}

// Close drives the pin low and releases GPIO.
func (led *LED) Close() error {
	led.SetRecording(false)
	err := led.pin.Close()
	if err != nil {
		return err
	}
	return embd.CloseGPIO()
}
