/*
DESCRIPTION
  file.go provides loading of configuration variables from a YAML file and
  watching of that file for changes.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/ausocean/utils/logging"
)

// Load reads the flat YAML file at path, mapping config keys to values, e.g.
//
//	MotionThreshold: 6
//	InactivityTimeout: 3s
//
// The returned map is suitable for Config.Update.
func Load(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	vars := make(map[string]string)
	err = yaml.Unmarshal(b, &vars)
	if err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return vars, nil
}

// Watch reloads the file at path whenever it is written, created or replaced
// and passes the loaded vars to fn. The containing directory is watched so
// that editors replacing the file are noticed. Watching stops when ctx is
// done. Reload failures are logged and do not stop the watch.
func Watch(ctx context.Context, path string, l logging.Logger, fn func(map[string]string)) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	err = w.Add(filepath.Dir(path))
	if err != nil {
		w.Close()
		return fmt.Errorf("could not watch config directory: %w", err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				vars, err := Load(path)
				if err != nil {
					l.Warning("could not reload config", "error", err.Error())
					continue
				}
				l.Debug("config file changed", "path", path)
				fn(vars)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Warning("config watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}
