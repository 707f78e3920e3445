// Package auth supplies bearer tokens for authenticated streaming. The
// player asks for a token each time it opens a remote segment, so providers
// may change their answer at any time.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
)

// Static always returns the same token.
type Static string

// Token implements playback.TokenProvider.
func (s Static) Token() string { return string(s) }

// envToken is read from LISTENUP_TOKEN.
type envToken struct {
	Token string `env:"TOKEN"`
}

// FromEnv reads the token from LISTENUP_TOKEN once.
func FromEnv() (Static, error) {
	cfg, err := env.ParseAsWithOptions[envToken](env.Options{Prefix: "LISTENUP_"})
	if err != nil {
		return "", fmt.Errorf("read token from environment: %w", err)
	}
	return Static(cfg.Token), nil
}

// FileProvider serves the token stored in a file and reloads it whenever the
// file changes, so an external login can refresh credentials mid-book.
type FileProvider struct {
	path   string
	logger *log.Logger

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	closed  chan struct{}
	done    chan struct{}
}

// NewFileProvider reads path (a leading ~ is expanded) and starts watching
// it. A missing file yields an empty token until it appears.
func NewFileProvider(path string, logger *log.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = log.Default()
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand token path: %w", err)
	}
	expanded, err = filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve token path: %w", err)
	}

	fp := &FileProvider{
		path:   expanded,
		logger: logger,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := fp.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// watch the directory: editors and login tools replace the file
	if err := watcher.Add(filepath.Dir(expanded)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(expanded), err)
	}
	fp.watcher = watcher

	go fp.watchLoop()
	return fp, nil
}

// Path returns the watched file.
func (fp *FileProvider) Path() string { return fp.path }

// Token implements playback.TokenProvider.
func (fp *FileProvider) Token() string {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.token
}

func (fp *FileProvider) reload() error {
	data, err := os.ReadFile(fp.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))

	fp.mu.Lock()
	changed := token != fp.token
	fp.token = token
	fp.mu.Unlock()

	if changed {
		fp.logger.Debug("Token reloaded", "path", fp.path)
	}
	return nil
}

func (fp *FileProvider) clear() {
	fp.mu.Lock()
	fp.token = ""
	fp.mu.Unlock()
	fp.logger.Debug("Token file removed", "path", fp.path)
}

func (fp *FileProvider) watchLoop() {
	defer close(fp.done)
	for {
		select {
		case <-fp.closed:
			return
		case event, ok := <-fp.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fp.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := fp.reload(); err != nil {
					fp.logger.Warn("Failed to reload token", "error", err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fp.clear()
			}
		case err, ok := <-fp.watcher.Errors:
			if !ok {
				return
			}
			fp.logger.Warn("Token watcher error", "error", err)
		}
	}
}

// Close stops watching the file.
func (fp *FileProvider) Close() error {
	select {
	case <-fp.closed:
		return nil
	default:
	}
	close(fp.closed)
	err := fp.watcher.Close()
	<-fp.done
	return err
}
