package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thomasbaden/observable"
	"github.com/thomasbaden/observable/internal/log"
	"github.com/thomasbaden/observable/internal/watcher"
)

var loaded = observable.New[Reloader, Config](observable.WithName("config"))

// Reloader keeps the Config loaded from a file and publishes every reload
// that changes it. Observers registered on Config() run on the reloader's
// goroutine once Start has been called.
type Reloader struct {
	path     string
	debounce time.Duration

	mu        sync.Mutex
	watcher   *watcher.Watcher
	done      chan struct{}
	stopped   chan struct{}
	reloading atomic.Bool // set while the watch goroutine runs Reload
}

// NewReloader loads path once. A zero debounce uses the watcher default.
func NewReloader(path string, debounce time.Duration) (*Reloader, error) {
	if debounce <= 0 {
		debounce = watcher.DefaultConfig(path).Debounce
	}
	r := &Reloader{path: path, debounce: debounce}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := loaded.Set(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Config returns the current configuration and its observer registrations.
func (r *Reloader) Config() observable.Field[Reloader, Config] {
	return loaded.Bind(r)
}

// Reload reads the file again. An unreadable or invalid file leaves the
// current Config in place. Observer errors are returned as-is.
func (r *Reloader) Reload() error {
	cfg, err := Load(r.path)
	if err != nil {
		log.Warn(log.CatConfig, "Config reload rejected", "path", r.path, "error", err)
		return err
	}
	return loaded.Set(r, cfg)
}

// Start watches the file and reloads after each change.
func (r *Reloader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return fmt.Errorf("reloader already started")
	}

	w, err := watcher.New(watcher.Config{Path: r.path, Debounce: r.debounce})
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}

	r.watcher = w
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.loop(changes, r.done, r.stopped)

	log.Info(log.CatConfig, "Watching config", "path", r.path)
	return nil
}

func (r *Reloader) loop(changes <-chan struct{}, done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-changes:
			select {
			case <-done:
				return
			default:
			}
			r.reloading.Store(true)
			err := r.Reload()
			r.reloading.Store(false)
			if err != nil {
				log.ErrorErr(log.CatConfig, "Config reload failed", err, "path", r.path)
			}
		case <-done:
			return
		}
	}
}

// Stop ends watching and waits for the watch goroutine to exit. While that
// goroutine is running a reload, Stop does not wait: an observer may call
// Stop from inside the reload it is being notified of. No reload starts
// after Stop returns.
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}

	close(r.done)
	if !r.reloading.Load() {
		<-r.stopped
	}
	err := r.watcher.Stop()
	r.watcher = nil
	return err
}
