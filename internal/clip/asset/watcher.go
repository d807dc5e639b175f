package asset

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher evicts cached clips when their asset files change on disk, so the
// next play of that preset picks up the new version.
type Watcher struct {
	watcher *fsnotify.Watcher
	loader  *Loader
	logger  zerolog.Logger
	onEvict func(names []string)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher watches the directories of every local asset in l's manifest.
// onEvict may be nil.
func NewWatcher(l *Loader, logger zerolog.Logger, onEvict func(names []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		loader:  l,
		logger:  logger.With().Str("component", "clip-watcher").Logger(),
		onEvict: onEvict,
		done:    make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, loc := range l.Locations() {
		dir := filepath.Dir(loc)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			names := w.loader.EvictLocation(event.Name)
			if len(names) == 0 {
				continue
			}
			w.logger.Info().Str("file", event.Name).Strs("presets", names).Msg("Clip asset changed, evicted")
			if w.onEvict != nil {
				w.onEvict(names)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Clip watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
