/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package medium

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendKeyring  = "keyring"
	BackendMemory   = "memory"
)

// Options selects and configures a medium.
type Options struct {
	Backend    string
	Dir        string // data directory for file and sqlite
	Namespace  string
	DSN        string // postgres only
	QuotaBytes int64  // 0 disables the quota wrapper
	Backups    int    // file only, see FileOptions
}

// Open creates a Medium based on the backend name.
//
// Supported backends:
//
//	"file"     - JSON file per namespace in Dir (default)
//	"sqlite"   - embedded SQLite database at Dir/snipvault.sqlite
//	"postgres" - shared table reached through DSN
//	"keyring"  - OS keychain
//	"memory"   - in-memory (ephemeral, for testing)
func Open(opts Options) (Medium, error) {
	ns := opts.Namespace
	if strings.TrimSpace(ns) == "" {
		ns = "default"
	}
	var (
		m   Medium
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendFile, "", "json":
		m, err = NewFile(opts.Dir, ns, FileOptions{Backups: opts.Backups})
	case BackendSQLite:
		if strings.TrimSpace(opts.Dir) == "" {
			return nil, fmt.Errorf("sqlite backend: data dir is required")
		}
		m, err = OpenSQLite(filepath.Join(opts.Dir, SQLiteFileName), ns)
	case BackendPostgres:
		m, err = OpenPostgres(opts.DSN, ns)
	case BackendKeyring:
		m, err = NewKeyring(ns)
	case BackendMemory:
		m = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend: %q (supported: file, sqlite, postgres, keyring, memory)", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.QuotaBytes > 0 {
		q, err := NewQuota(m, opts.QuotaBytes)
		if err != nil {
			_ = Close(m)
			return nil, err
		}
		return q, nil
	}
	return m, nil
}

// Close releases m if it holds resources.
func Close(m Medium) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
