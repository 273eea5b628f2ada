/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "strings"

// languages maps a language name to its canonical file extension first,
// followed by other extensions that imply it.
var languages = map[string][]string{
	"go":         {".go"},
	"javascript": {".js", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx"},
	"python":     {".py"},
	"ruby":       {".rb"},
	"rust":       {".rs"},
	"java":       {".java"},
	"c":          {".c", ".h"},
	"cpp":        {".cpp", ".cc", ".hpp"},
	"csharp":     {".cs"},
	"bash":       {".sh"},
	"sql":        {".sql"},
	"html":       {".html", ".htm"},
	"css":        {".css"},
	"json":       {".json"},
	"yaml":       {".yaml", ".yml"},
	"markdown":   {".md"},
}

var langByExt = func() map[string]string {
	out := map[string]string{}
	for lang, exts := range languages {
		for _, e := range exts {
			out[e] = lang
		}
	}
	return out
}()

// LanguageForExt returns the language implied by a file extension such as
// ".go", or "" when unknown.
func LanguageForExt(ext string) string {
	return langByExt[strings.ToLower(ext)]
}

// ExtForLanguage returns the canonical extension for a language, or ".txt".
func ExtForLanguage(lang string) string {
	if exts, ok := languages[strings.ToLower(lang)]; ok {
		return exts[0]
	}
	return ".txt"
}
