/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package collection manages named, timestamped entries stored together as
// one JSON object under a single key.
package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"snipvault/internal/kv"
	applog "snipvault/internal/log"
	"snipvault/internal/medium"
)

// SavedAtField is the persisted field holding an entry's write time.
const SavedAtField = "savedAt"

var (
	ErrEmptyName      = errors.New("entry name must not be empty")
	ErrNotObject      = errors.New("payload must encode as a JSON object")
	ErrInvalidPayload = errors.New("payload does not match schema")
)

// Entry is a payload together with its name and save time.
type Entry[P any] struct {
	Name    string
	Payload P
	SavedAt string
}

// MarshalJSON flattens the payload fields next to name and savedAt. A payload
// field called "name" takes precedence over the entry name.
func (e Entry[P]) MarshalJSON() ([]byte, error) {
	fields, err := objectFields(e.Payload)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	name, _ := json.Marshal(e.Name)
	at, _ := json.Marshal(e.SavedAt)
	if _, ok := fields["name"]; !ok {
		fields["name"] = name
	}
	fields[SavedAtField] = at
	return json.Marshal(fields)
}

type options struct {
	schema    []byte
	now       func() time.Time
	storeOpts []kv.Option
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*options)

// WithSchema validates every saved payload against a JSON schema document.
func WithSchema(schema []byte) Option { return func(o *options) { o.schema = schema } }

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithStoreOptions passes options through to the underlying kv.Store.
func WithStoreOptions(opts ...kv.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithLogger replaces the default logger (component=collection).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// Manager stores entries of payload type P. P must encode as a JSON object.
type Manager[P any] struct {
	store  *kv.Store[map[string]json.RawMessage]
	schema *gojsonschema.Schema
	now    func() time.Time
	log    *slog.Logger
}

// New binds a manager to key on m. It only fails when the schema option
// cannot be compiled.
func New[P any](m medium.Medium, key string, opts ...Option) (*Manager[P], error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = applog.WithComponent("collection")
	}
	mgr := &Manager[P]{now: o.now, log: o.log.With(slog.String("key", key))}
	if len(o.schema) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(o.schema))
		if err != nil {
			return nil, fmt.Errorf("compile schema: %w", err)
		}
		mgr.schema = s
	}
	mgr.store = kv.New(m, key, map[string]json.RawMessage{}, o.storeOpts...)
	return mgr, nil
}

// Save creates or replaces the entry called name and stamps its save time.
// Persistence failures are reported as store warnings, not errors.
func (m *Manager[P]) Save(name string, payload P) error {
	raw, err := m.prepare(name, payload, m.stamp())
	if err != nil {
		return err
	}
	m.store.Update(func(prev map[string]json.RawMessage) map[string]json.RawMessage {
		next := make(map[string]json.RawMessage, len(prev)+1)
		for k, v := range prev {
			next[k] = v
		}
		next[name] = raw
		return next
	})
	return nil
}

// SaveAll stores every entry of batch in a single write, or none of them when
// any entry is rejected. The error names the first rejected entry in name order.
func (m *Manager[P]) SaveAll(batch map[string]P) error {
	if len(batch) == 0 {
		return nil
	}
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)
	at := m.stamp()
	prepared := make(map[string]json.RawMessage, len(batch))
	for _, name := range names {
		raw, err := m.prepare(name, batch[name], at)
		if err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
		prepared[name] = raw
	}
	m.store.Update(func(prev map[string]json.RawMessage) map[string]json.RawMessage {
		next := make(map[string]json.RawMessage, len(prev)+len(prepared))
		for k, v := range prev {
			next[k] = v
		}
		for k, v := range prepared {
			next[k] = v
		}
		return next
	})
	return nil
}

// Validate reports the error Save would return for name and payload without
// storing anything.
func (m *Manager[P]) Validate(name string, payload P) error {
	_, err := m.prepare(name, payload, nil)
	return err
}

func (m *Manager[P]) stamp() json.RawMessage {
	at, _ := json.Marshal(m.now().UTC().Format(time.RFC3339Nano))
	return at
}

// prepare checks an entry and encodes it with savedAt set to at.
func (m *Manager[P]) prepare(name string, payload P, at json.RawMessage) (json.RawMessage, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	fields, err := objectFields(payload)
	if err != nil {
		return nil, err
	}
	delete(fields, SavedAtField)
	if err := m.validate(fields); err != nil {
		return nil, err
	}
	if at == nil {
		return nil, nil
	}
	fields[SavedAtField] = at
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode entry %q: %w", name, err)
	}
	return raw, nil
}

// Get returns the entry called name; ok is false when there is none.
func (m *Manager[P]) Get(name string) (Entry[P], bool) {
	raw, ok := m.store.Value()[name]
	if !ok {
		return Entry[P]{}, false
	}
	e, err := decodeEntry[P](name, raw)
	if err != nil {
		m.log.Warn("skipping undecodable entry", slog.String("name", name), slog.Any("err", err))
		return Entry[P]{}, false
	}
	return e, true
}

// Delete removes the entry called name. Deleting a missing entry issues no write.
func (m *Manager[P]) Delete(name string) {
	if _, ok := m.store.Value()[name]; !ok {
		return
	}
	m.store.Update(func(prev map[string]json.RawMessage) map[string]json.RawMessage {
		next := make(map[string]json.RawMessage, len(prev))
		for k, v := range prev {
			if k != name {
				next[k] = v
			}
		}
		return next
	})
}

// List returns every entry ordered by name.
func (m *Manager[P]) List() []Entry[P] {
	return m.entries(m.store.Value())
}

// Clear removes the whole collection from the medium.
func (m *Manager[P]) Clear() { m.store.Remove() }

// Len reports the number of entries.
func (m *Manager[P]) Len() int { return len(m.store.Value()) }

// Subscribe calls fn with the full entry list after every change.
func (m *Manager[P]) Subscribe(fn func([]Entry[P])) func() {
	return m.store.Subscribe(func(v map[string]json.RawMessage) { fn(m.entries(v)) })
}

// Undo reverts the latest change to the collection when history is enabled.
func (m *Manager[P]) Undo() bool { return m.store.Undo() }

// Redo re-applies the latest undone change.
func (m *Manager[P]) Redo() bool { return m.store.Redo() }

func (m *Manager[P]) entries(v map[string]json.RawMessage) []Entry[P] {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]Entry[P], 0, len(names))
	for _, name := range names {
		e, err := decodeEntry[P](name, v[name])
		if err != nil {
			m.log.Warn("skipping undecodable entry", slog.String("name", name), slog.Any("err", err))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (m *Manager[P]) validate(fields map[string]json.RawMessage) error {
	if m.schema == nil {
		return nil
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := m.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
	}
	return nil
}

func objectFields(payload any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

func decodeEntry[P any](name string, raw json.RawMessage) (Entry[P], error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry[P]{}, err
	}
	e := Entry[P]{Name: name}
	if at, ok := fields[SavedAtField]; ok {
		if err := json.Unmarshal(at, &e.SavedAt); err != nil {
			return Entry[P]{}, fmt.Errorf("savedAt: %w", err)
		}
		delete(fields, SavedAtField)
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return Entry[P]{}, err
	}
	if err := json.Unmarshal(b, &e.Payload); err != nil {
		return Entry[P]{}, err
	}
	return e, nil
}
