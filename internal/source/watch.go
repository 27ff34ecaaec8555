package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/debounce"
)

// ErrRemoved is reported when the watched file is deleted.
var ErrRemoved = errors.New("watched file was removed")

// DefaultSettle is how long a file must be quiet before it is reloaded.
const DefaultSettle = 200 * time.Millisecond

// Watcher reloads a source file whenever it changes on disk. Bursts of
// events, such as an editor's save sequence, produce one reload.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	reload   *debounce.Coalescer[struct{}]
	onChange func(File)
	onError  func(error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Watch starts watching path. The parent directory is watched so atomic
// replace-on-save is seen. onError may be nil.
func Watch(path string, settle time.Duration, onChange func(File), onError func(error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		fsw:      fsw,
		onChange: onChange,
		onError:  onError,
		done:     make(chan struct{}),
	}
	w.reload = debounce.New(settle, func(struct{}) { w.load() })
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) run() {
	defer w.wg.Done()
	target := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0:
				w.onError(ErrRemoved)
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.reload.Notify(struct{}{})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) load() {
	file, err := Load(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	log.Debug().Str("file", w.path).Int("bytes", len(file.Data)).Msg("Source reloaded")
	w.onChange(file)
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()
		w.reload.Stop()
	})
}
