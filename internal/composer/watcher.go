package composer

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watcher reloads the engine whenever the rule definitions file changes.
type Watcher struct {
	engine *Engine
	path   string
	logger *logrus.Logger
	v      *viper.Viper
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(engine *Engine, path string, logger *logrus.Logger) *Watcher {
	return &Watcher{engine: engine, path: path, logger: logger}
}

// Start registers the file with viper's fsnotify-backed watcher.
func (w *Watcher) Start() error {
	v := viper.New()
	v.SetConfigFile(w.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watching rule definitions %s: %w", w.path, err)
	}
	v.OnConfigChange(w.handleChange)
	v.WatchConfig()
	w.v = v

	w.logger.WithField("path", w.path).Info("Watching rule definitions for changes")
	return nil
}

func (w *Watcher) handleChange(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if err := w.engine.LoadFile(w.path); err != nil {
		w.logger.WithFields(logrus.Fields{
			"path":  w.path,
			"error": err.Error(),
		}).Warn("Rule definitions changed but could not be loaded; keeping previous rules")
		return
	}
	w.logger.WithField("path", w.path).Info("Rule definitions reloaded")
}
