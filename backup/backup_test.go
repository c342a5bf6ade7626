// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, retention int) (*Manager, string) {
	t.Helper()

	saveDir := t.TempDir()
	saveFile := filepath.Join(saveDir, "persistent.sfs")
	require.NoError(t, os.WriteFile(saveFile, []byte("GAME { title = test }"), 0o644))

	catalog, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	m, err := New(Config{
		WatchFile: saveFile,
		Dir:       filepath.Join(t.TempDir(), "backups"),
		Retention: retention,
		Debounce:  50 * time.Millisecond,
	}, catalog, nil)
	require.NoError(t, err)

	return m, saveFile
}

func TestBackupNow(t *testing.T) {
	m, saveFile := newTestManager(t, 10)

	entry, err := m.BackupNow()
	require.NoError(t, err)

	assert.Equal(t, saveFile, entry.Source)
	assert.NotEmpty(t, entry.Checksum)
	assert.Positive(t, entry.Size)

	// The backup decompresses back to the original contents.
	f, err := os.Open(filepath.Join(m.cfg.Dir, entry.Name))
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	restored, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, []byte("GAME { title = test }"), restored)

	sum := sha256.Sum256(restored)
	assert.Equal(t, hex.EncodeToString(sum[:]), entry.Checksum)
}

func TestList(t *testing.T) {
	m, saveFile := newTestManager(t, 10)

	first, err := m.BackupNow()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(saveFile, []byte("GAME { title = later }"), 0o644))
	second, err := m.BackupNow()
	require.NoError(t, err)

	entries, err := m.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.Name, entries[0].Name)
	assert.Equal(t, second.Name, entries[1].Name)
}

func TestPruneKeepsRetention(t *testing.T) {
	m, _ := newTestManager(t, 2)

	var last Entry
	for i := 0; i < 5; i++ {
		var err error
		last, err = m.BackupNow()
		require.NoError(t, err)
	}

	entries, err := m.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, last.Name, entries[1].Name)

	// Pruned files are gone from disk too.
	files, err := os.ReadDir(m.cfg.Dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestWatcherBacksUpOnChange(t *testing.T) {
	m, saveFile := newTestManager(t, 10)

	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, os.WriteFile(saveFile, []byte("GAME { title = changed }"), 0o644))

	require.Eventually(t, func() bool {
		entries, err := m.List()
		return err == nil && len(entries) >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestBackupNow_MissingFile(t *testing.T) {
	catalog, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	defer catalog.Close()

	m, err := New(Config{
		WatchFile: filepath.Join(t.TempDir(), "nope.sfs"),
		Dir:       t.TempDir(),
		Retention: 2,
	}, catalog, nil)
	require.NoError(t, err)

	_, err = m.BackupNow()
	assert.Error(t, err)
}
