package socketmap

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DenyList is a reloadable set of sender addresses policy delegation should
// always reject, independent of quota. One sender per line, blank lines and
// "#"-prefixed comments ignored.
type DenyList struct {
	mu      sync.RWMutex
	senders map[string]struct{}
	log     *zap.Logger
}

// NewDenyList loads path once, synchronously, so the embedder always starts
// with a populated list instead of racing its first request against a
// background watcher goroutine.
func NewDenyList(path string, log *zap.Logger) (*DenyList, error) {
	d := &DenyList{senders: make(map[string]struct{}), log: log}
	if path == "" {
		return d, nil
	}
	if err := d.reload(path); err != nil {
		return nil, err
	}
	return d, nil
}

// Contains reports whether sender is on the deny list.
func (d *DenyList) Contains(sender string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, denied := d.senders[strings.ToLower(sender)]
	return denied
}

func (d *DenyList) reload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fresh := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fresh[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.senders = fresh
	d.mu.Unlock()
	return nil
}

// Watch reloads the deny list whenever path changes on disk, until ctx is
// canceled. A malformed or temporarily missing file is logged and skipped —
// the previous in-memory list keeps serving rather than going empty.
func (d *DenyList) Watch(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.reload(path); err != nil {
					d.log.Warn("failed to reload deny list", zap.String("path", path), zap.Error(err))
					continue
				}
				d.log.Info("deny list reloaded", zap.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("deny list watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
