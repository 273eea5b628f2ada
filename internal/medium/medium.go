/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package medium

import (
	"errors"
	"sort"
)

var (
	// ErrQuotaExceeded is returned by SetItem when the write would exceed the medium's budget.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable is returned when the medium cannot be reached or has been closed.
	ErrUnavailable = errors.New("storage medium unavailable")
	// ErrCorrupt is returned when the medium's own container cannot be decoded.
	ErrCorrupt = errors.New("storage medium corrupt")
)

// Medium is a synchronous string key-value substrate.
//
// GetItem reports ok=false for a missing key; that is not an error.
// RemoveItem on a missing key is a no-op.
type Medium interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Lister is implemented by media that can enumerate their keys.
type Lister interface {
	Keys() ([]string, error)
}

// Dump returns every key/value pair in m. Media that cannot enumerate keys
// yield an empty map.
func Dump(m Medium) (map[string]string, error) {
	out := map[string]string{}
	l, ok := m.(Lister)
	if !ok {
		return out, nil
	}
	keys, err := l.Keys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		v, ok, err := m.GetItem(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
