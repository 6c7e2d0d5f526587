/*
DESCRIPTION
  motioncam records video from a camera whenever motion is detected,
  finalizing each recording into a Matroska file in a recordings directory.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>
  Dan Kortschak <dan@ausocean.org>
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package motioncam is a motion triggered video recorder.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	_ "github.com/kidoman/embd/host/rpi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/motioncam/device/webcam"
	"github.com/ausocean/motioncam/finalize"
	"github.com/ausocean/motioncam/indicator"
	"github.com/ausocean/motioncam/recorder"
	"github.com/ausocean/motioncam/recorder/config"
	"github.com/ausocean/utils/logging"
)

// Current software version.
const version = "v0.3.0"

// Logging configuration.
const (
	logPath      = "/var/log/motioncam/motioncam.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// Misc constants.
const (
	pkg = "motioncam: "
)

// closer is an indicator that holds resources.
type closer interface {
	Close() error
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file, watched for changes")
		tempDir     = flag.String("temp-directory", "", "directory for intermediate files")
		outputDir   = flag.String("recordings-directory", "", "directory for finished recordings")
		threshold   = flag.String("mse-threshold", "", "mean squared error between frames considered motion")
		timeout     = flag.String("timeout", "", "inactivity before a recording ends, e.g. 5s")
		lores       = flag.String("lores", "", "size of frames used for motion detection, e.g. 320x240")
		verbosity   = flag.String("v", "", "log level: Debug, Info, Warning, Error or Fatal")
		fileLog     = flag.Bool("log", false, "also log to a rotated file")
		filePath    = flag.String("log-path", logPath, "path of the log file used with -log")
		recoverJobs = flag.Bool("recover", false, "finalize recordings left in the temp directory")
		showVersion = flag.Bool("version", false, "show version")
	)
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	vars := make(map[string]string)
	if *configPath != "" {
		v, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		vars = v
	}

	// Flags given on the command line override the config file.
	var errs []string
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "temp-directory":
			vars[config.KeyTempDir] = *tempDir
		case "recordings-directory":
			vars[config.KeyOutputDir] = *outputDir
		case "mse-threshold":
			vars[config.KeyMotionThreshold] = *threshold
		case "timeout":
			vars[config.KeyInactivityTimeout] = *timeout
		case "lores":
			w, h, err := parseSize(*lores)
			if err != nil {
				errs = append(errs, err.Error())
				return
			}
			vars[config.KeyLoresWidth], vars[config.KeyLoresHeight] = w, h
		case "v":
			vars[config.KeyLogging] = *verbosity
		case "recover":
			vars[config.KeyRecover] = strconv.FormatBool(*recoverJobs)
		}
	})
	if len(errs) != 0 {
		fmt.Fprintln(os.Stderr, strings.Join(errs, "\n"))
		os.Exit(2)
	}

	config.SetDefaults(vars)

	var w io.Writer = os.Stderr
	if *fileLog {
		// Create lumberjack logger to handle logging to file.
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   *filePath,
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackup,
			MaxAge:     logMaxAge,
		})
	}
	log := logging.New(logLevel(vars[config.KeyLogging]), w, suppress(vars[config.KeySuppress]))
	log.Info(pkg+"starting motioncam", "version", version)

	err := config.CheckRequired(vars)
	if err != nil {
		log.Fatal(pkg+"incomplete configuration", "error", err.Error())
	}
	cfg := config.Config{Logger: log, LogLevel: logVerbosity}
	cfg.Update(vars)
	err = cfg.Validate()
	if err != nil {
		log.Fatal(pkg+"invalid configuration", "error", err.Error())
	}

	ind, closers := indicators(cfg, log)

	log.Debug("initialising recorder")
	cam := webcam.New(log)
	rec, err := recorder.New(cfg, cam, ind, finalize.NewMKVMerge(cfg.MuxerPath, log))
	if err != nil {
		log.Fatal(pkg+"could not initialise recorder", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rec.Start(ctx)
	if err != nil {
		log.Fatal(pkg+"could not start recorder", "error", err.Error())
	}
	notify(log, daemon.SdNotifyReady)
	go watchdog(ctx, log)

	if *configPath != "" {
		err = config.Watch(ctx, *configPath, log, func(vars map[string]string) {
			if v, ok := vars[config.KeyLogging]; ok {
				log.SetLevel(logLevel(v))
			}
			err := rec.Update(vars)
			if err != nil {
				log.Warning(pkg+"couldn't update recorder", "error", err.Error())
				return
			}
			log.Info(pkg + "recorder reconfigured")
		})
		if err != nil {
			log.Warning(pkg+"config file will not be reloaded", "error", err.Error())
		}
	}

	code := 0
	select {
	case <-ctx.Done():
		log.Info(pkg + "shutdown requested")
	case err := <-rec.Err():
		log.Error(pkg+"recorder failed", "error", err.Error())
		code = 1
	}

	notify(log, daemon.SdNotifyStopping)
	rec.Stop()
	for _, c := range closers {
		err := c.Close()
		if err != nil {
			log.Warning(pkg+"could not close indicator", "error", err.Error())
		}
	}
	log.Info(pkg + "stopped")
	if code != 0 {
		os.Exit(code)
	}
}

// indicators returns the recording indicators enabled by cfg and those that
// must be closed on exit.
func indicators(cfg config.Config, l logging.Logger) (indicator.Indicator, []closer) {
	var (
		ind     indicator.Multi
		closers []closer
	)
	if cfg.IndicatorPin != "" {
		led, err := indicator.NewLED(cfg.IndicatorPin, l)
		if err != nil {
			l.Warning(pkg+"LED indicator disabled", "error", err.Error())
		} else {
			ind = append(ind, led)
			closers = append(closers, led)
		}
	}
	if cfg.MQTTHost != "" {
		m, err := indicator.NewMQTT(indicator.MQTTConfig{
			Host:     cfg.MQTTHost,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Device:   cfg.MQTTDevice,
		}, l)
		if err != nil {
			l.Warning(pkg+"MQTT indicator disabled", "error", err.Error())
		} else {
			ind = append(ind, m)
			closers = append(closers, closeFunc(m.Close))
		}
	}
	return ind, closers
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// notify sends state to systemd if running as a notify service.
func notify(l logging.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		l.Warning(pkg+"could not notify systemd", "state", state, "error", err.Error())
		return
	}
	if sent {
		l.Debug(pkg+"notified systemd", "state", state)
	}
}

// watchdog pings the systemd watchdog at half its interval until ctx is done.
func watchdog(ctx context.Context, l logging.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		l.Warning(pkg+"could not check systemd watchdog", "error", err.Error())
		return
	}
	if interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(l, daemon.SdNotifyWatchdog)
		}
	}
}

// logLevel returns the logging level named s, defaulting to Info.
func logLevel(s string) int8 {
	switch s {
	case "Debug":
		return logging.Debug
	case "Warning":
		return logging.Warning
	case "Error":
		return logging.Error
	case "Fatal":
		return logging.Fatal
	}
	return logVerbosity
}

// suppress returns the logger suppression named by s, defaulting to
// logSuppress.
func suppress(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return logSuppress
	}
	return b
}

// parseSize parses a size of the form WxH.
func parseSize(s string) (w, h string, err error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid size %q, want WxH", s)
	}
	for _, p := range parts {
		if n, err := strconv.ParseUint(p, 10, 32); err != nil || n == 0 {
			return "", "", fmt.Errorf("invalid size %q, want WxH", s)
		}
	}
	return parts[0], parts[1], nil
}
