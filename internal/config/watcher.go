// watcher.go implements fsnotify-based hot reload of the configuration file.
// Only the non-fatal knobs (debug level, request logging) take effect at
// runtime; port, OAuth registration and the session secret require a restart.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce is a short delay so editors that write-then-rename do not
// trigger two reloads per save.
const reloadDebounce = 150 * time.Millisecond

// Watcher watches the configuration file and invokes a callback with the
// freshly parsed configuration whenever its content actually changes.
type Watcher struct {
	configPath     string
	reloadCallback func(*Config)

	watcher     *fsnotify.Watcher
	reloadMu    sync.Mutex
	reloadTimer *time.Timer
	lastHash    string
}

// NewWatcher creates a watcher for configPath. The callback runs on the
// watcher goroutine; it must not block.
func NewWatcher(configPath string, reloadCallback func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
		lastHash:       hashFile(configPath),
	}, nil
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory, not the file: atomic rename-into-place replaces
	// the inode and would silently detach a file watch.
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)

	go w.loop(ctx)
	return nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	hash := hashFile(w.configPath)
	if hash == "" || hash == w.lastHash {
		return
	}

	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	w.lastHash = hash
	log.Infof("config file changed, applying reloadable settings")
	if w.reloadCallback != nil {
		w.reloadCallback(cfg)
	}
}

func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
