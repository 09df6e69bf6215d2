package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Loader holds the live policy loaded from a file and reloads it when the
// file changes. A file that fails to parse or validate never replaces the
// live policy.
type Loader struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	policy *Policy
	hash   string
}

// NewLoader loads path (or the defaults when it does not exist). A nil
// logger means slog.Default().
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: path, logger: logger}
	if _, err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Policy returns the live policy. Callers must not modify it.
func (l *Loader) Policy() *Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// Hash returns the SHA-256 hex digest of the applied file, or "" when the
// defaults are in use.
func (l *Loader) Hash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hash
}

// Reload re-reads the file and swaps in the new policy. It reports whether
// the live policy changed.
func (l *Loader) Reload() (bool, error) {
	data, err := os.ReadFile(l.path)
	var (
		p    *Policy
		hash string
	)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p = DefaultPolicy()
	case err != nil:
		return false, fmt.Errorf("read policy file: %w", err)
	default:
		if p, err = ParsePolicy(data); err != nil {
			return false, err
		}
		sum := sha256.Sum256(data)
		hash = hex.EncodeToString(sum[:])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.policy != nil && hash == l.hash {
		return false, nil
	}
	l.policy, l.hash = p, hash

	short := hash
	if len(short) > 12 {
		short = short[:12]
	}
	l.logger.Info("config: policy applied", "path", l.path, "hash", short,
		"requests_per_minute", p.Limits.RequestsPerMinute,
		"cost_per_day", p.Limits.CostPerDay)
	return true, nil
}

// Watch reloads the policy whenever its file is written, created, renamed
// or removed, calling onChange with each newly applied policy. It blocks
// until ctx is cancelled. The directory is watched rather than the file so
// that atomic-rename saves are seen.
func (l *Loader) Watch(ctx context.Context, onChange func(*Policy)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(l.path), err)
	}

	base := filepath.Base(l.path)
	var (
		debounce *time.Timer
		fire     = make(chan struct{}, 1)
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			changed, err := l.Reload()
			if err != nil {
				l.logger.Warn("config: policy reload rejected, keeping previous policy",
					"path", l.path, "err", err)
				continue
			}
			if changed && onChange != nil {
				onChange(l.Policy())
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config: watcher error", "err", err)
		}
	}
}
