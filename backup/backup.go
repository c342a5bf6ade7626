// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package backup keeps rotated, compressed copies of a save file. A
// watcher picks up changes, waits for the write to settle, then snapshots
// the file into the backup directory and records it in the catalog.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/gzip"
)

// Config holds backup manager settings.
type Config struct {
	WatchFile string        // save file to back up
	Dir       string        // where backups land
	Retention int           // backups kept; older ones are pruned
	Debounce  time.Duration // quiet period after a change
}

// Manager owns the watch loop and the backup directory.
type Manager struct {
	cfg     Config
	catalog *Catalog
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a backup manager. The backup directory is created if needed.
func New(cfg Config, catalog *Catalog, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention < 1 {
		cfg.Retention = 10
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching the save file's directory. Watching the directory
// rather than the file survives the atomic write-then-rename pattern most
// games use when saving.
func (m *Manager) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.cfg.WatchFile)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.cfg.WatchFile), err)
	}

	m.watcher = watcher
	m.wg.Add(1)
	go m.run()

	m.logger.Info("backup watcher started",
		slog.String("file", m.cfg.WatchFile),
		slog.String("dir", m.cfg.Dir),
		slog.Int("retention", m.cfg.Retention))

	return nil
}

// Stop terminates the watch loop and waits for it to finish.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *Manager) run() {
	defer m.wg.Done()

	// The timer stays stopped until a relevant event arrives, then resets
	// on every further event so the backup runs once the file settles.
	debounce := time.NewTimer(m.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	base := filepath.Base(m.cfg.WatchFile)

	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(m.cfg.Debounce)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("backup watcher error", slog.String("error", err.Error()))

		case <-debounce.C:
			if _, err := m.BackupNow(); err != nil {
				m.logger.Error("backup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// BackupNow snapshots the save file immediately, records it in the
// catalog, and prunes backups beyond the retention count.
func (m *Manager) BackupNow() (Entry, error) {
	entry, err := m.snapshot()
	if err != nil {
		return Entry{}, err
	}

	if err := m.catalog.Put(entry); err != nil {
		return Entry{}, err
	}

	m.logger.Info("backup written",
		slog.String("name", entry.Name),
		slog.Int64("size", entry.Size))

	if err := m.prune(); err != nil {
		m.logger.Warn("backup prune failed", slog.String("error", err.Error()))
	}

	return entry, nil
}

// List returns all catalogued backups, oldest first.
func (m *Manager) List() ([]Entry, error) {
	return m.catalog.List()
}

func (m *Manager) snapshot() (Entry, error) {
	src, err := os.Open(m.cfg.WatchFile)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open save file: %w", err)
	}
	defer src.Close()

	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%s.gz", filepath.Base(m.cfg.WatchFile), now.Format("20060102-150405.000000000"))
	path := filepath.Join(m.cfg.Dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	hasher := sha256.New()
	zw := gzip.NewWriter(dst)

	if _, err := io.Copy(io.MultiWriter(zw, hasher), src); err != nil {
		os.Remove(path)
		return Entry{}, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		os.Remove(path)
		return Entry{}, fmt.Errorf("failed to finish backup: %w", err)
	}

	info, err := dst.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat backup: %w", err)
	}

	return Entry{
		Name:      name,
		Source:    m.cfg.WatchFile,
		CreatedAt: now,
		Size:      info.Size(),
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// prune removes the oldest backups until at most Retention remain.
func (m *Manager) prune() error {
	entries, err := m.catalog.List()
	if err != nil {
		return err
	}

	for len(entries) > m.cfg.Retention {
		oldest := entries[0]
		entries = entries[1:]

		if err := os.Remove(filepath.Join(m.cfg.Dir, oldest.Name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", oldest.Name, err)
		}
		if err := m.catalog.Delete(oldest); err != nil {
			return err
		}

		m.logger.Debug("old backup pruned", slog.String("name", oldest.Name))
	}

	return nil
}
