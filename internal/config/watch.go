package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file whenever it changes on disk and invokes
// onLimits with the freshly parsed limits. Only the fairness limits are
// applied live; everything else needs a restart. Watch blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onLimits func(LimitsConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which drops a
	// watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var debounce *time.Timer
	reload := func() {
		cfg, err := NewLoader().WithConfigFile(target).Load()
		if err != nil {
			logger.Warn("config reload failed, keeping previous limits", "path", target, "error", err)
			return
		}
		logger.Info("config reloaded",
			"max_concurrent_per_user", cfg.Limits.MaxConcurrentPerUser,
			"daily_quota", cfg.Limits.DailyQuota,
		)
		onLimits(cfg.Limits)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce editor write bursts.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
