/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package medium

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	applog "snipvault/internal/log"
)

const (
	// BackupsDirName holds timestamped copies of namespace files.
	BackupsDirName = "backups"

	defaultFileBackups = 5
	stampLayout        = "20060102-150405.000000000"
)

// File stores one namespace as a single JSON object (key -> raw string) on disk.
//
// Layout:
//
//	dir/
//	  <namespace>.json
//	  backups/<namespace>.json.<stamp>.bak
//
// Every write replaces the file transactionally (temp file, fsync, rename) after
// copying the previous version into backups/. When the current file cannot be
// parsed the latest backup is used instead. A write over an unreadable file
// first moves it aside to <namespace>.json.corrupt-<stamp>.
type File struct {
	mu       sync.Mutex
	dir      string
	name     string
	backups  int
	backupRe *regexp.Regexp
	log      *slog.Logger
}

// FileOptions tunes a File medium.
type FileOptions struct {
	// Backups is the number of timestamped backups to keep. 0 means the default (5);
	// a negative value disables backups.
	Backups int
}

// NewFile creates the directory if needed and returns a medium for namespace.
func NewFile(dir, namespace string, opts FileOptions) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file medium: directory is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("file medium: namespace is required")
	}
	if strings.ContainsAny(namespace, `/\`) {
		return nil, fmt.Errorf("file medium: invalid namespace %q", namespace)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	n := opts.Backups
	if n == 0 {
		n = defaultFileBackups
	}
	name := namespace + ".json"
	return &File{
		dir:      dir,
		name:     name,
		backups:  n,
		backupRe: regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `\.\d{8}-\d{6}\.\d{9}\.bak$`),
		log:      applog.WithComponent("medium.file").With(slog.String("namespace", namespace)),
	}, nil
}

// Path returns the namespace file path.
func (f *File) Path() string { return filepath.Join(f.dir, f.name) }

func (f *File) backupDir() string { return filepath.Join(f.dir, BackupsDirName) }

func (f *File) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.loadLocked(false)
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

func (f *File) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.loadLocked(true)
	if err != nil {
		return err
	}
	items[key] = value
	return f.saveLocked(items)
}

func (f *File) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.loadLocked(true)
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return f.saveLocked(items)
}

func (f *File) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.loadLocked(false)
	if err != nil {
		return nil, err
	}
	return sortedKeys(items), nil
}

// loadLocked reads the namespace file. For a write, an unreadable file is
// moved aside and the latest backup, or an empty namespace, takes its place.
func (f *File) loadLocked(forWrite bool) (map[string]string, error) {
	b, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, f.name, err)
	}
	items, perr := decodeItems(b)
	if perr == nil {
		return items, nil
	}
	if forWrite {
		moved, err := f.quarantineLocked()
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v; move aside: %v", ErrCorrupt, f.name, perr, err)
		}
		f.log.Warn("namespace file corrupt, moved aside", slog.String("path", moved), slog.Any("err", perr))
	}
	items, berr := f.latestBackupLocked()
	if berr != nil {
		if forWrite {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: parse %s: %v; backup attempt: %v", ErrCorrupt, f.name, perr, berr)
	}
	f.log.Warn("namespace file corrupt, using latest backup", slog.Any("err", perr))
	return items, nil
}

func (f *File) quarantineLocked() (string, error) {
	dst := filepath.Join(f.dir, fmt.Sprintf("%s.corrupt-%s", f.name, time.Now().UTC().Format(stampLayout)))
	if err := os.Rename(f.Path(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func decodeItems(b []byte) (map[string]string, error) {
	items := map[string]string{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = map[string]string{}
	}
	return items, nil
}

func (f *File) saveLocked(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.name, err)
	}
	data = append(data, '\n')

	if f.backups > 0 {
		if _, statErr := os.Stat(f.Path()); statErr == nil {
			if err := f.backupLocked(); err != nil {
				return err
			}
		}
	}

	temp := filepath.Join(f.dir, fmt.Sprintf(".%s.tmp-%d-%d", f.name, os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("%w: write temp %s: %v", ErrUnavailable, f.name, err)
	}
	if err := os.Rename(temp, f.Path()); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, f.name, err)
	}
	return nil
}

func (f *File) backupLocked() error {
	bdir := f.backupDir()
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	stamp := time.Now().UTC().Format(stampLayout)
	bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", f.name, stamp))
	if err := copyFile(f.Path(), bpath); err != nil {
		return fmt.Errorf("backup %s: %w", f.name, err)
	}
	candidates, err := f.backupCandidatesLocked()
	if err != nil {
		return nil
	}
	for len(candidates) > f.backups {
		_ = os.Remove(candidates[0])
		candidates = candidates[1:]
	}
	return nil
}

// backupCandidatesLocked lists this namespace's backups oldest first; the
// stamp sorts lexically.
func (f *File) backupCandidatesLocked() ([]string, error) {
	ents, err := os.ReadDir(f.backupDir())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if f.backupRe.MatchString(e.Name()) {
			out = append(out, filepath.Join(f.backupDir(), e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *File) latestBackupLocked() (map[string]string, error) {
	candidates, err := f.backupCandidatesLocked()
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	latest := candidates[len(candidates)-1]
	b, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("read latest backup: %w", err)
	}
	items, err := decodeItems(b)
	if err != nil {
		return nil, fmt.Errorf("parse latest backup: %w", err)
	}
	return items, nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sf.Close() }()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
