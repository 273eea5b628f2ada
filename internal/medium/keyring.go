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
	"slices"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// keyringIndexUser is the keyring account that records which keys exist, since
// OS keychains cannot be enumerated portably.
const keyringIndexUser = "__snipvault_index__"

// Keyring stores values in the OS keychain (Secret Service, macOS Keychain,
// Windows Credential Manager). Suitable for small secret values only; the
// platform limits item size and SetItem reports that as ErrQuotaExceeded.
type Keyring struct {
	mu      sync.Mutex
	service string
}

// NewKeyring returns a keyring medium whose items live under service "snipvault/<namespace>".
func NewKeyring(namespace string) (*Keyring, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("keyring medium: namespace is required")
	}
	return &Keyring{service: "snipvault/" + namespace}, nil
}

func (k *Keyring) GetItem(key string) (string, bool, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: keyring get %q: %v", ErrUnavailable, key, err)
	}
	return v, true, nil
}

func (k *Keyring) SetItem(key, value string) error {
	if key == keyringIndexUser {
		return fmt.Errorf("keyring set: key %q is reserved", key)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(k.service, key, value); err != nil {
		if errors.Is(err, keyring.ErrSetDataTooBig) {
			return fmt.Errorf("%w: keyring set %q: %v", ErrQuotaExceeded, key, err)
		}
		return fmt.Errorf("%w: keyring set %q: %v", ErrUnavailable, key, err)
	}
	return k.updateIndexLocked(func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		keys = append(keys, key)
		slices.Sort(keys)
		return keys
	})
}

func (k *Keyring) RemoveItem(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: keyring delete %q: %v", ErrUnavailable, key, err)
	}
	return k.updateIndexLocked(func(keys []string) []string {
		return slices.DeleteFunc(keys, func(s string) bool { return s == key })
	})
}

func (k *Keyring) Keys() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.indexLocked()
}

func (k *Keyring) indexLocked() ([]string, error) {
	raw, err := keyring.Get(k.service, keyringIndexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: keyring index: %v", ErrUnavailable, err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("%w: keyring index: %v", ErrCorrupt, err)
	}
	return keys, nil
}

func (k *Keyring) updateIndexLocked(fn func([]string) []string) error {
	keys, err := k.indexLocked()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	b, err := json.Marshal(fn(keys))
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, keyringIndexUser, string(b)); err != nil {
		return fmt.Errorf("%w: keyring index: %v", ErrUnavailable, err)
	}
	return nil
}
