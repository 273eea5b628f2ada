/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package medium implements the synchronous, string-keyed, string-valued storage
// substrates that back snipvault stores: an in-memory shim, a JSON file per
// namespace, an embedded SQLite database, a shared PostgreSQL table and the OS
// keyring. All media speak the same three-call contract modelled on browser
// local storage (GetItem, SetItem, RemoveItem); Quota adds a local-storage style
// byte budget on top of any of them.
package medium
