/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snipvault/internal/domain"
	applog "snipvault/internal/log"
	"snipvault/internal/snippets"
)

// ManifestName is the archive member listing every snippet with its metadata.
const ManifestName = "snippets.json"

// SnippetsZip writes one source file per snippet plus a JSON manifest into a
// ZIP archive at outPath. File names are derived from snippet names and
// languages; clashes get a numeric suffix.
func SnippetsZip(entries []snippets.Entry, outPath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	zw := zip.NewWriter(f)

	used := map[string]bool{ManifestName: true}
	for _, e := range entries {
		name := uniqueName(used, safeFileName(e.Name), domain.ExtForLanguage(e.Payload.Language))
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if ts, perr := time.Parse(time.RFC3339Nano, e.SavedAt); perr == nil {
			hdr.Modified = ts
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		if _, err := w.Write([]byte(e.Payload.Code)); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	manifest, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	w, err := zw.Create(ManifestName)
	if err != nil {
		return fmt.Errorf("add manifest: %w", err)
	}
	if _, err := w.Write(manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return zw.Close()
}

func safeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ". ")
	if s == "" {
		s = "snippet"
	}
	return s
}

func uniqueName(used map[string]bool, base, ext string) string {
	name := base + ext
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	used[name] = true
	return name
}

// ReadSnippetsZip loads snippets from an archive written by SnippetsZip. When
// the manifest is missing, every regular file becomes a snippet named after
// its base name, with the language taken from its extension.
func ReadSnippetsZip(path string) (map[string]domain.Snippet, error) {
	l := applog.WithOperation(applog.WithComponent("export"), "read-zip").With(slog.String("path", path))
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	out := map[string]domain.Snippet{}
	for _, f := range r.File {
		if f.Name != ManifestName {
			continue
		}
		b, err := readMember(f)
		if err != nil {
			return nil, err
		}
		var manifest []struct {
			Name     string `json:"name"`
			Code     string `json:"code"`
			Language string `json:"language"`
		}
		if err := json.Unmarshal(b, &manifest); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		for _, e := range manifest {
			out[e.Name] = domain.Snippet{Code: e.Code, Language: e.Language}
		}
		l.Debug("read manifest", slog.Int("snippets", len(out)))
		return out, nil
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		b, err := readMember(f)
		if err != nil {
			return nil, err
		}
		base := filepath.Base(f.Name)
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		if _, dup := out[name]; dup {
			l.Warn("skip duplicate snippet name", slog.String("file", f.Name))
			continue
		}
		out[name] = domain.Snippet{Code: string(b), Language: domain.LanguageForExt(ext)}
	}
	return out, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}
