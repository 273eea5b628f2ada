/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import _ "embed"

// SnippetsKey is the storage key under which the snippet collection lives.
const SnippetsKey = "code-snippets"

// Snippet is the payload of one saved code snippet.
// The snippet name is the collection key and is not part of the payload.
type Snippet struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// SnippetSchema is the JSON schema each snippet payload must satisfy.
//
//go:embed snippet.schema.json
var SnippetSchema []byte
