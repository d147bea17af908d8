// Package reload implements the hot-reload coordinator: a debounced
// filesystem watcher on the config file's parent directory plus a SIGHUP
// listener, both driving validated config reloads through one channel.
package reload

import (
	"path/filepath"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/smotra-monitoring/agent/internal/agentconfig"
	"github.com/smotra-monitoring/agent/internal/model"
)

const debounceInterval = 500 * time.Millisecond

// Coordinator watches a config file for changes (filesystem events or
// SIGHUP) and delivers freshly validated Config values on Updates. Load
// failures are logged; the previous config remains in effect.
type Coordinator struct {
	path    string
	logger  log.Logger
	updates chan model.Config
}

// New creates a Coordinator for the config file at path. Call Run to start
// watching; Updates() yields validated configs until the coordinator's
// context is cancelled.
func New(logger log.Logger, path string) *Coordinator {
	return &Coordinator{path: path, logger: logger, updates: make(chan model.Config, 1)}
}

// Updates returns the single-consumer channel of validated configs.
func (c *Coordinator) Updates() <-chan model.Config { return c.updates }

// Run watches the parent directory of the config path (editors may
// replace-rename rather than write in place) and a SIGHUP source,
// debouncing rapid triggers at 500ms, until shutdown is closed.
func (c *Coordinator) Run(shutdown <-chan struct{}, sighup <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fsnotify watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch directory %s", dir)
	}
	base := filepath.Base(c.path)

	var debounce *time.Timer
	trigger := make(chan model.ReloadTrigger, 1)

	armDebounce := func(t model.ReloadTrigger) {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(debounceInterval, func() {
			select {
			case trigger <- t:
			default:
			}
		})
	}

	for {
		select {
		case <-shutdown:
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			armDebounce(model.ReloadTrigger{Kind: model.ReloadFileChange, Path: ev.Name})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			level.Error(c.logger).Log("msg", "filesystem watch error", "err", err)

		case <-sighup:
			armDebounce(model.ReloadTrigger{Kind: model.ReloadSignal})

		case t := <-trigger:
			c.reload(t)
		}
	}
}

func (c *Coordinator) reload(t model.ReloadTrigger) {
	cfg, err := agentconfig.LoadAndValidate(c.path)
	if err != nil {
		level.Warn(c.logger).Log("msg", "reload failed, keeping previous config", "trigger", triggerName(t), "err", err)
		return
	}

	level.Info(c.logger).Log("msg", "config reloaded", "trigger", triggerName(t), "version", cfg.Version, "endpoints", len(cfg.Endpoints))

	select {
	case c.updates <- cfg:
	default:
		// Single-slot channel: an undrained previous update is superseded
		// by this newer one.
		select {
		case <-c.updates:
		default:
		}
		c.updates <- cfg
	}
}

func triggerName(t model.ReloadTrigger) string {
	switch t.Kind {
	case model.ReloadFileChange:
		return "file_change"
	case model.ReloadSignal:
		return "signal"
	case model.ReloadServerVersionChange:
		return "server_version_change"
	default:
		return "manual"
	}
}
