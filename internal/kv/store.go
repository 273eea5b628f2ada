/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package kv provides a typed, observable value persisted as JSON under one
// key of a storage medium.
//
// The in-memory mirror is authoritative for readers: Value never touches the
// medium. Writes are optimistic; when persisting fails the mirror still
// advances and a Warning is reported instead of an error.
package kv

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"snipvault/internal/history"
	applog "snipvault/internal/log"
	"snipvault/internal/medium"
)

// Op names the step during which a Warning occurred.
type Op string

const (
	OpRead   Op = "read"
	OpParse  Op = "parse"
	OpEncode Op = "encode"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
)

// Warning describes a recovered failure. The store keeps working after it.
type Warning struct {
	Op  Op
	Key string
	Err error
}

func (w Warning) Error() string { return fmt.Sprintf("kv %s %q: %v", w.Op, w.Key, w.Err) }
func (w Warning) Unwrap() error { return w.Err }

type config struct {
	log    *slog.Logger
	onWarn func(Warning)
	hist   *history.Manager
}

// Option configures a Store.
type Option func(*config)

// WithLogger replaces the default logger (component=kv).
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// WithWarningHandler registers fn to receive every Warning after it is logged.
func WithWarningHandler(fn func(Warning)) Option { return func(c *config) { c.onWarn = fn } }

// WithHistory records the previous serialized value before each change so
// Undo and Redo can restore it.
func WithHistory(h *history.Manager) Option { return func(c *config) { c.hist = h } }

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Store is a JSON-serializable value of type T bound to one key of a medium.
// It is safe for concurrent use within one process. Values handed out by
// Value and to subscribers share memory with the mirror and must not be
// mutated in place.
type Store[T any] struct {
	m   medium.Medium
	key string
	def T
	cfg config

	mu      sync.Mutex
	value   T
	raw     string
	present bool
	subs    []subscriber[T]
	nextID  int
}

// New reads key from m and returns a store mirroring it. An absent key, a
// read failure or unparsable content all yield def; the latter two are
// reported as warnings. New never fails.
func New[T any](m medium.Medium, key string, def T, opts ...Option) *Store[T] {
	s := &Store[T]{m: m, key: key, def: def, value: def}
	for _, o := range opts {
		o(&s.cfg)
	}
	if s.cfg.log == nil {
		s.cfg.log = applog.WithComponent("kv")
	}
	raw, ok, err := m.GetItem(key)
	switch {
	case err != nil:
		s.dispatch([]Warning{s.warn(OpRead, err)})
	case !ok:
		s.cfg.log.Debug("key absent, using default", slog.String("key", key))
	default:
		s.raw, s.present = raw, true
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.dispatch([]Warning{s.warn(OpParse, err)})
		} else {
			s.value = v
		}
	}
	return s
}

// Key returns the medium key this store is bound to.
func (s *Store[T]) Key() string { return s.key }

// Value returns the last known value without consulting the medium.
func (s *Store[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value and persists it.
func (s *Store[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update computes the next value from the current one and persists it.
// fn runs with the store locked and must not call back into the store.
func (s *Store[T]) Update(fn func(prev T) T) {
	s.mu.Lock()
	next := fn(s.value)
	warns := s.writeLocked(next)
	subs, v := s.snapshotSubsLocked()
	s.mu.Unlock()
	s.dispatch(warns)
	notify(subs, v)
}

// Remove deletes the key from the medium and resets the value to the
// default. If the medium refuses, the value is left unchanged.
func (s *Store[T]) Remove() {
	s.mu.Lock()
	if err := s.m.RemoveItem(s.key); err != nil {
		w := s.warn(OpRemove, err)
		s.mu.Unlock()
		s.dispatch([]Warning{w})
		return
	}
	if s.present {
		s.recordLocked()
	}
	s.value, s.raw, s.present = s.def, "", false
	subs, v := s.snapshotSubsLocked()
	s.mu.Unlock()
	notify(subs, v)
}

// Bind returns the current value with its setter and remover, in that order.
func (s *Store[T]) Bind() (T, func(T), func()) {
	return s.Value(), s.Set, s.Remove
}

// Subscribe registers fn to be called with the new value after every change.
// Subscribers run synchronously in registration order, outside the store's
// lock. The returned function unregisters fn.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Undo restores the state before the latest change. It reports false when
// no history is configured or nothing is left to undo.
func (s *Store[T]) Undo() bool {
	return s.travel(func(h *history.Manager, cur history.Snapshot) (history.Snapshot, bool) {
		return h.Undo(cur)
	})
}

// Redo re-applies the latest undone change.
func (s *Store[T]) Redo() bool {
	return s.travel(func(h *history.Manager, cur history.Snapshot) (history.Snapshot, bool) {
		return h.Redo(cur)
	})
}

func (s *Store[T]) travel(step func(*history.Manager, history.Snapshot) (history.Snapshot, bool)) bool {
	if s.cfg.hist == nil {
		return false
	}
	s.mu.Lock()
	target, ok := step(s.cfg.hist, s.currentLocked())
	if !ok {
		s.mu.Unlock()
		return false
	}
	warns := s.applyLocked(target)
	subs, v := s.snapshotSubsLocked()
	s.mu.Unlock()
	s.dispatch(warns)
	notify(subs, v)
	return true
}

func (s *Store[T]) writeLocked(next T) []Warning {
	b, err := json.Marshal(next)
	if err != nil {
		s.value = next
		return []Warning{s.warn(OpEncode, err)}
	}
	s.recordLocked()
	s.value, s.raw, s.present = next, string(b), true
	if err := s.m.SetItem(s.key, s.raw); err != nil {
		return []Warning{s.warn(OpWrite, err)}
	}
	return nil
}

// applyLocked installs a history snapshot without recording it.
func (s *Store[T]) applyLocked(snap history.Snapshot) []Warning {
	if snap.Absent {
		if err := s.m.RemoveItem(s.key); err != nil {
			return []Warning{s.warn(OpRemove, err)}
		}
		s.value, s.raw, s.present = s.def, "", false
		return nil
	}
	var warns []Warning
	raw := string(snap.Blob)
	var v T
	if err := json.Unmarshal(snap.Blob, &v); err != nil {
		v = s.def
		warns = append(warns, s.warn(OpParse, err))
	}
	s.value, s.raw, s.present = v, raw, true
	if err := s.m.SetItem(s.key, raw); err != nil {
		warns = append(warns, s.warn(OpWrite, err))
	}
	return warns
}

func (s *Store[T]) currentLocked() history.Snapshot {
	return history.Snapshot{Key: s.key, Blob: []byte(s.raw), Absent: !s.present, TS: time.Now()}
}

func (s *Store[T]) recordLocked() {
	if s.cfg.hist != nil {
		s.cfg.hist.Record(s.currentLocked())
	}
}

func (s *Store[T]) snapshotSubsLocked() ([]subscriber[T], T) {
	if len(s.subs) == 0 {
		return nil, s.value
	}
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	return subs, s.value
}

// warn logs immediately; the handler is invoked later by dispatch, outside the lock.
func (s *Store[T]) warn(op Op, err error) Warning {
	w := Warning{Op: op, Key: s.key, Err: err}
	applog.WithOperation(s.cfg.log, string(op)).Warn("storage operation failed",
		slog.String("key", s.key), slog.Any("err", err))
	return w
}

func (s *Store[T]) dispatch(warns []Warning) {
	if s.cfg.onWarn == nil {
		return
	}
	for _, w := range warns {
		s.cfg.onWarn(w)
	}
}

func notify[T any](subs []subscriber[T], v T) {
	for _, sub := range subs {
		sub.fn(v)
	}
}
