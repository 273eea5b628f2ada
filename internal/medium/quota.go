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
	"sync"
)

// DefaultQuotaBytes matches the common browser local-storage budget.
const DefaultQuotaBytes = 5 * 1024 * 1024

// Quota enforces a byte budget over another medium. An item costs
// len(key)+len(value) bytes. When the inner medium can list its keys the
// existing contents are counted up front; otherwise only items touched through
// this wrapper are accounted.
type Quota struct {
	mu    sync.Mutex
	inner Medium
	max   int64
	sizes map[string]int64
	used  int64
}

// NewQuota wraps inner with a budget of maxBytes.
func NewQuota(inner Medium, maxBytes int64) (*Quota, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("quota: max bytes must be positive, got %d", maxBytes)
	}
	q := &Quota{inner: inner, max: maxBytes, sizes: map[string]int64{}}
	all, err := Dump(inner)
	if err != nil {
		return nil, fmt.Errorf("quota: measure existing items: %w", err)
	}
	for k, v := range all {
		q.sizes[k] = itemSize(k, v)
		q.used += q.sizes[k]
	}
	return q, nil
}

func itemSize(key, value string) int64 { return int64(len(key) + len(value)) }

// Used reports the accounted bytes.
func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Unwrap returns the inner medium.
func (q *Quota) Unwrap() Medium { return q.inner }

func (q *Quota) GetItem(key string) (string, bool, error) {
	return q.inner.GetItem(key)
}

func (q *Quota) SetItem(key, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	old, err := q.sizeLocked(key)
	if err != nil {
		return err
	}
	next := itemSize(key, value)
	if q.used-old+next > q.max {
		return fmt.Errorf("%w: setting %q needs %d bytes, %d of %d in use", ErrQuotaExceeded, key, next, q.used-old, q.max)
	}
	if err := q.inner.SetItem(key, value); err != nil {
		return err
	}
	q.used += next - old
	q.sizes[key] = next
	return nil
}

func (q *Quota) RemoveItem(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.RemoveItem(key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

func (q *Quota) Keys() ([]string, error) {
	if l, ok := q.inner.(Lister); ok {
		return l.Keys()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.sizes))
	for k := range q.sizes {
		keys = append(keys, k)
	}
	return keys, nil
}

func (q *Quota) sizeLocked(key string) (int64, error) {
	if n, ok := q.sizes[key]; ok {
		return n, nil
	}
	v, ok, err := q.inner.GetItem(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n := itemSize(key, v)
	q.sizes[key] = n
	q.used += n
	return n, nil
}

// Close closes the inner medium when it holds resources.
func (q *Quota) Close() error { return Close(q.inner) }
