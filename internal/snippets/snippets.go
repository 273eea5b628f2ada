/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package snippets assembles the code-snippet collection from its parts.
package snippets

import (
	"log/slog"
	"path/filepath"

	"snipvault/internal/collection"
	"snipvault/internal/domain"
	"snipvault/internal/history"
	"snipvault/internal/kv"
	"snipvault/internal/medium"
)

// Manager is the snippet collection.
type Manager = collection.Manager[domain.Snippet]

// Entry is one saved snippet.
type Entry = collection.Entry[domain.Snippet]

// Options select the key and optional behavior of the snippet collection.
type Options struct {
	// Key defaults to domain.SnippetsKey.
	Key      string
	Validate bool
	History  *history.Manager
	Logger   *slog.Logger
	// OnWarning receives persistence warnings in addition to the log.
	OnWarning func(kv.Warning)
}

// New opens the snippet collection stored on m.
func New(m medium.Medium, opts Options) (*Manager, error) {
	key := opts.Key
	if key == "" {
		key = domain.SnippetsKey
	}
	var storeOpts []kv.Option
	var mgrOpts []collection.Option
	if opts.Logger != nil {
		storeOpts = append(storeOpts, kv.WithLogger(opts.Logger.With(slog.String("component", "kv"))))
		mgrOpts = append(mgrOpts, collection.WithLogger(opts.Logger.With(slog.String("component", "collection"))))
	}
	if opts.History != nil {
		storeOpts = append(storeOpts, kv.WithHistory(opts.History))
	}
	if opts.OnWarning != nil {
		storeOpts = append(storeOpts, kv.WithWarningHandler(opts.OnWarning))
	}
	if opts.Validate {
		mgrOpts = append(mgrOpts, collection.WithSchema(domain.SnippetSchema))
	}
	mgrOpts = append(mgrOpts, collection.WithStoreOptions(storeOpts...))
	return collection.New[domain.Snippet](m, key, mgrOpts...)
}

// DetectLanguage guesses a language name from a file path. It returns ""
// when the extension is unknown.
func DetectLanguage(path string) string {
	return domain.LanguageForExt(filepath.Ext(path))
}
