package plugin

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch rescans the plugins directory whenever its entries change, batching
// bursts of events (an unzip or rm -r) into one Sync. It blocks until ctx is
// cancelled.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	if err := os.MkdirAll(m.cfg.PluginsDir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(m.cfg.PluginsDir); err != nil {
		return err
	}
	m.log.Info("watching plugins dir", zap.String("dir", m.cfg.PluginsDir))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("plugin watcher error", zap.Error(err))
		case <-timer.C:
			if _, err := m.Sync(ctx); err != nil {
				m.log.Error("plugin rescan failed", zap.Error(err))
			}
		}
	}
}
