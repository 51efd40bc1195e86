package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchRulesFile reloads the rules file on change and hands the result to
// apply. Events are debounced because editors fire several per save.
func WatchRulesFile(path string, apply func(Rules)) error {
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				rules, err := LoadRules(path)
				if err != nil {
					slog.Error("rules reload failed", "path", path, "err", err)
					continue
				}
				slog.Info("rules reloaded", "path", path, "tracks", len(rules.Tracks))
				apply(rules)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("watch error", "err", err)
			}
		}
	}()
	return nil
}
