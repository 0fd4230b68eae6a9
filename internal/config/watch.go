package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces editor write bursts into one notification.
const watchDebounce = 200 * time.Millisecond

// Watch notifies onChange when the config file at path is written or
// replaced. It watches the parent directory so atomic rename-into-place
// saves are seen too. The returned function stops watching.
func Watch(path string, onChange func()) (func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, onChange)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", path).Msg("config watcher error")
			}
		}
	}()

	return func() { fw.Close() }, nil
}
